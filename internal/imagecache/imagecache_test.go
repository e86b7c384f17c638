package imagecache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shelfcast/internal/ir"
	"github.com/roach88/shelfcast/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "images.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeFetcher struct {
	mu       sync.Mutex
	calls    []string
	inFlight atomic.Int32
	peak     atomic.Int32
	fail     map[string]bool
}

func (f *fakeFetcher) FetchImage(_ context.Context, u string) ([]byte, string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, u)
	f.mu.Unlock()

	if f.fail[u] {
		return nil, "", errors.New("boom")
	}
	return []byte("img:" + u), "image/png", nil
}

type brokenBlobs struct{}

func (brokenBlobs) GetImage(context.Context, string) (store.Image, error) {
	return store.Image{}, errors.New("disk I/O error")
}
func (brokenBlobs) HasImage(context.Context, string) (bool, error) { return false, nil }
func (brokenBlobs) PutImage(context.Context, store.Image) error   { return errors.New("read-only") }

func TestRef(t *testing.T) {
	c := New(nil, "https://bucket.example.com/", 1)
	png := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n0000"))

	tests := []struct {
		name string
		p    ir.Product
		want string
	}{
		{"none", ir.Product{}, ""},
		{"url", ir.Product{Image: "https://cdn.example.com/a.png"}, "https://cdn.example.com/a.png"},
		{"file name", ir.Product{ImageFileName: "oat milk.png"}, "https://bucket.example.com/oat%20milk.png?alt=media"},
		{"inline", ir.Product{ImageBase64: png}, "data:image/png;base64," + png},
		{"inline data uri", ir.Product{ImageBase64: "data:image/gif;base64,R0lG"}, "data:image/gif;base64,R0lG"},
		{"inline wins", ir.Product{ImageBase64: png, Image: "https://x"}, "data:image/png;base64," + png},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Ref(tt.p))
		})
	}
}

func TestNewDefaults(t *testing.T) {
	c := New(nil, "", 0)
	assert.Equal(t, DefaultBaseURL+"/a.png?alt=media", c.Ref(ir.Product{ImageFileName: "a.png"}))
	assert.Equal(t, 1, c.concurrency)
}

func TestResolveFallsBackToRawRef(t *testing.T) {
	p := ir.Product{Barcode: "A", Image: "https://cdn.example.com/a.png"}

	t.Run("no blobs", func(t *testing.T) {
		res := New(nil, "", 1).Resolve(context.Background(), p)
		assert.Equal(t, p.Image, res.Ref)
		assert.False(t, res.Cached)
	})

	t.Run("miss", func(t *testing.T) {
		res := New(setupTestStore(t), "", 1).Resolve(context.Background(), p)
		assert.Equal(t, p.Image, res.Ref)
		assert.Equal(t, ir.ImageKey(p.Image), res.Key)
		assert.False(t, res.Cached)
	})

	t.Run("storage error", func(t *testing.T) {
		res := New(brokenBlobs{}, "", 1).Resolve(context.Background(), p)
		assert.Equal(t, p.Image, res.Ref)
		assert.False(t, res.Cached)
	})

	t.Run("empty blob", func(t *testing.T) {
		s := setupTestStore(t)
		require.NoError(t, s.PutImage(context.Background(), store.Image{Key: ir.ImageKey(p.Image), URL: p.Image, Data: []byte{}}))
		res := New(s, "", 1).Resolve(context.Background(), p)
		assert.False(t, res.Cached)
	})
}

func TestResolveCached(t *testing.T) {
	s := setupTestStore(t)
	ref := "https://cdn.example.com/a.png"
	require.NoError(t, s.PutImage(context.Background(), store.Image{
		Key: ir.ImageKey(ref), URL: ref, ContentType: "image/png", Data: []byte("png"),
	}))

	res := New(s, "", 1).Resolve(context.Background(), ir.Product{Image: ref})
	assert.True(t, res.Cached)
	assert.Equal(t, ref, res.Ref)
	assert.Equal(t, []byte("png"), res.Data)
	assert.Equal(t, "image/png", res.ContentType)
}

func TestPreload(t *testing.T) {
	s := setupTestStore(t)
	c := New(s, "https://bucket.example.com", 3)
	ctx := context.Background()

	var products []ir.Product
	for i := 0; i < 10; i++ {
		products = append(products, ir.Product{Barcode: fmt.Sprint(i), ImageFileName: fmt.Sprintf("p%d.png", i)})
	}
	products = append(products,
		ir.Product{Barcode: "dup", ImageFileName: "p0.png"},
		ir.Product{Barcode: "inline", ImageBase64: "AAAA"},
		ir.Product{Barcode: "none"},
	)

	f := &fakeFetcher{fail: map[string]bool{"https://bucket.example.com/p3.png?alt=media": true}}
	report, err := c.Preload(ctx, products, f)
	require.NoError(t, err)

	assert.Equal(t, PreloadReport{Fetched: 9, Skipped: 3, Failed: 1}, report)
	assert.LessOrEqual(t, f.peak.Load(), int32(3))

	n, err := s.CountImages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	res := c.Resolve(ctx, products[0])
	assert.True(t, res.Cached)
	assert.True(t, strings.HasPrefix(string(res.Data), "img:"))

	// Second run only retries the failure.
	f2 := &fakeFetcher{}
	report, err = c.Preload(ctx, products, f2)
	require.NoError(t, err)
	assert.Equal(t, PreloadReport{Fetched: 1, Skipped: 12}, report)
	assert.Equal(t, []string{"https://bucket.example.com/p3.png?alt=media"}, f2.calls)
}

func TestPreloadWriteFailure(t *testing.T) {
	c := New(brokenBlobs{}, "", 2)
	report, err := c.Preload(context.Background(), []ir.Product{{Image: "https://x/a.png"}}, &fakeFetcher{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
}

func TestPreloadCancelled(t *testing.T) {
	c := New(setupTestStore(t), "", 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Preload(ctx, []ir.Product{{Image: "https://x/a.png"}}, &fakeFetcher{})
	assert.ErrorIs(t, err, context.Canceled)
}
