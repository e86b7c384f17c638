// Package imagecache resolves product images through a content-addressed
// blob cache, falling back to the raw reference when nothing is cached.
package imagecache

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/shelfcast/internal/ir"
	"github.com/roach88/shelfcast/internal/store"
)

// DefaultBaseURL is the storage-service bucket product images are served from.
const DefaultBaseURL = "https://storage.googleapis.com/whats-on-product-images"

// Blobs is the durable side of the cache. *store.Store satisfies it.
type Blobs interface {
	GetImage(ctx context.Context, key string) (store.Image, error)
	HasImage(ctx context.Context, key string) (bool, error)
	PutImage(ctx context.Context, img store.Image) error
}

// Fetcher downloads an image. *remote.Client satisfies it.
type Fetcher interface {
	FetchImage(ctx context.Context, imageURL string) ([]byte, string, error)
}

// Resolved is a display-ready image reference.
type Resolved struct {
	// Ref is what the renderer should load: a URL or a data: URI. Empty
	// when the product has no image.
	Ref string `json:"ref,omitempty"`
	// Key is the cache key of Ref. Empty for inline images.
	Key         string `json:"key,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	// Cached reports whether a non-empty blob for Ref is in the cache.
	Cached bool `json:"cached"`
	Data   []byte `json:"-"`
}

// Cache resolves and preloads images.
type Cache struct {
	blobs       Blobs
	baseURL     string
	concurrency int
}

// New creates a cache over blobs. blobs may be nil, in which case every
// image resolves to its raw reference.
func New(blobs Blobs, baseURL string, concurrency int) *Cache {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Cache{
		blobs:       blobs,
		baseURL:     strings.TrimRight(baseURL, "/"),
		concurrency: concurrency,
	}
}

// Ref returns the display reference of p: an inline base64 payload as a
// data: URI, a direct image URL as-is, or a storage-service file name as
// "{base}/{name}?alt=media". Returns "" when p has no image.
func (c *Cache) Ref(p ir.Product) string {
	switch {
	case p.ImageBase64 != "":
		return dataURI(p.ImageBase64)
	case p.Image != "":
		return p.Image
	case p.ImageFileName != "":
		return c.baseURL + "/" + url.PathEscape(p.ImageFileName) + "?alt=media"
	}
	return ""
}

// Resolve returns the image of p, preferring a cached blob.
// Any cache miss, empty blob or storage error falls back to the raw
// reference; Resolve never fails.
func (c *Cache) Resolve(ctx context.Context, p ir.Product) Resolved {
	ref := c.Ref(p)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return Resolved{Ref: ref}
	}

	res := Resolved{Ref: ref, Key: ir.ImageKey(ref)}
	if c.blobs == nil {
		return res
	}

	img, err := c.blobs.GetImage(ctx, res.Key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("image cache read failed", "barcode", p.Barcode, "error", err)
		}
		return res
	}
	if len(img.Data) == 0 {
		return res
	}

	res.Cached = true
	res.Data = img.Data
	res.ContentType = img.ContentType
	return res
}

// PreloadReport summarizes a Preload run.
type PreloadReport struct {
	Fetched int
	Skipped int
	Failed  int
}

// Preload downloads the images of products that are not cached yet, with
// bounded concurrency. Individual failures are logged and counted; they
// never abort the run. Returns an error only when ctx is cancelled.
func (c *Cache) Preload(ctx context.Context, products []ir.Product, fetcher Fetcher) (PreloadReport, error) {
	var report PreloadReport
	if c.blobs == nil || fetcher == nil {
		return report, nil
	}

	refs := c.pendingRefs(ctx, products, &report)

	results := make([]bool, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			data, contentType, err := fetcher.FetchImage(gctx, ref)
			if err != nil {
				slog.Debug("image preload failed", "url", ref, "error", err)
				return nil
			}
			if len(data) == 0 {
				return nil
			}
			err = c.blobs.PutImage(gctx, store.Image{
				Key:         ir.ImageKey(ref),
				URL:         ref,
				ContentType: contentType,
				Data:        data,
			})
			if err != nil {
				slog.Warn("image cache write failed", "url", ref, "error", err)
				return nil
			}
			results[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	for _, ok := range results {
		if ok {
			report.Fetched++
		} else {
			report.Failed++
		}
	}
	slog.Info("image preload finished",
		"fetched", report.Fetched,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, ctx.Err()
}

// pendingRefs returns the distinct remote references not yet cached.
func (c *Cache) pendingRefs(ctx context.Context, products []ir.Product, report *PreloadReport) []string {
	seen := map[string]bool{}
	var refs []string
	for _, p := range products {
		ref := c.Ref(p)
		if ref == "" || strings.HasPrefix(ref, "data:") || seen[ref] {
			report.Skipped++
			continue
		}
		seen[ref] = true

		has, err := c.blobs.HasImage(ctx, ir.ImageKey(ref))
		if err == nil && has {
			report.Skipped++
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// dataURI turns an inline payload into a data: URI. Payloads that are
// already data URIs are returned unchanged.
func dataURI(payload string) string {
	if strings.HasPrefix(payload, "data:") {
		return payload
	}
	contentType := "application/octet-stream"
	if raw, err := base64.StdEncoding.DecodeString(payload); err == nil {
		contentType = http.DetectContentType(raw)
	}
	return "data:" + contentType + ";base64," + payload
}
