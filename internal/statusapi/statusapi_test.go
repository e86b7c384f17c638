package statusapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/shelfcast/internal/bootstrap"
	"github.com/roach88/shelfcast/internal/engine"
	"github.com/roach88/shelfcast/internal/ir"
	"github.com/roach88/shelfcast/internal/remote"
	"github.com/roach88/shelfcast/internal/session"
	"github.com/roach88/shelfcast/internal/store"
	"github.com/roach88/shelfcast/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticSessions struct {
	s *session.Session
}

func (s staticSessions) Current() *session.Session { return s.s }

type catalogRemote struct {
	products []ir.Product
}

func (r catalogRemote) FetchCatalog(context.Context, string) (remote.CatalogResponse, error) {
	return remote.CatalogResponse{Products: r.products}, nil
}

func (catalogRemote) FetchImage(context.Context, string) ([]byte, string, error) {
	return nil, "", context.Canceled
}

type fixture struct {
	store   *store.Store
	session *session.Session
	server  *httptest.Server
}

// newFixture runs a session for aisle-7 over products A and B and serves
// the API for it.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "status.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sess := session.New("aisle-7", st, catalogRemote{products: testutil.Products("A", "B")},
		session.Config{Dwell: time.Minute}, testutil.NewFixedTokenGenerator("s-1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		out, ok := sess.Outcome()
		return ok && out.State == bootstrap.StateReady
	}, 5*time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(New(staticSessions{sess}, st).Handler())
	t.Cleanup(srv.Close)
	return &fixture{store: st, session: sess, server: srv}
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *fixture) identify(t *testing.T, label string) {
	t.Helper()
	require.True(t, f.session.Engine.DeliverLabel(testutil.MustJSON(t, label)))
	require.NoError(t, f.session.Engine.Flush(context.Background()))
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(New(staticSessions{}, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, ir.AgentVersion, body["version"])
}

func TestNoSession(t *testing.T) {
	srv := httptest.NewServer(New(staticSessions{}, nil).Handler())
	defer srv.Close()

	for _, path := range []string{"/status", "/catalog", "/catalog/A", "/active", "/active/events"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + path)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
			body := decode[ErrorResponse](t, resp)
			assert.Equal(t, "no_session", body.Error)
		})
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "s-1", body["session"])
	assert.Equal(t, "aisle-7", body["field"])
	assert.Equal(t, "disconnected", body["connection"])
	assert.Equal(t, float64(2), body["size"])
	assert.Equal(t, ir.MustCatalogDigest(testutil.Products("A", "B")), body["digest"])

	bs := body["bootstrap"].(map[string]any)
	assert.Equal(t, "ready", bs["state"])
	assert.Equal(t, "remote", bs["source"])
	assert.Equal(t, float64(2), bs["added"])
}

func TestStatusReportsLastUpdate(t *testing.T) {
	f := newFixture(t)
	f.session.Engine.DeliverUpdate(testutil.MustJSON(t, testutil.Products("B", "C")))
	require.NoError(t, f.session.Engine.Flush(context.Background()))

	body := decode[struct {
		Size       int                  `json:"size"`
		LastUpdate *engine.UpdateReport `json:"lastUpdate"`
	}](t, f.get(t, "/status"))
	require.NotNil(t, body.LastUpdate)
	assert.Equal(t, []string{"C"}, ir.Barcodes(body.LastUpdate.Added))
	assert.Equal(t, 3, body.Size)
}

func TestCatalog(t *testing.T) {
	f := newFixture(t)

	body := decode[CatalogResponse](t, f.get(t, "/catalog"))
	assert.Equal(t, "aisle-7", body.Field)
	assert.Equal(t, []string{"A", "B"}, ir.Barcodes(body.Products))
	assert.Equal(t, f.session.Catalog.Digest(), body.Digest)
}

func TestCatalogProduct(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/catalog/B")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decode[ir.Product](t, resp)
	assert.Equal(t, "Product B", p.Name)

	resp = f.get(t, "/catalog/Z")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	e := decode[ErrorResponse](t, resp)
	assert.Equal(t, "not_found", e.Error)
	assert.Contains(t, e.Details, `"Z"`)
}

func TestActive(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/active")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	f.identify(t, "A_12")
	resp = f.get(t, "/active")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Product ir.Product `json:"product"`
		Label   string     `json:"label"`
		Seq     int64      `json:"seq"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "A", body.Product.Barcode)
	assert.Equal(t, "A_12", body.Label)
	assert.Positive(t, body.Seq)
}

func TestImages(t *testing.T) {
	f := newFixture(t)
	ref := "https://cdn.example.com/a.png"
	key := ir.ImageKey(ref)
	require.NoError(t, f.store.PutImage(context.Background(), store.Image{
		Key: key, URL: ref, ContentType: "image/png", Data: []byte("png-bytes"),
	}))

	resp := f.get(t, "/images/"+key)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	buf := new(strings.Builder)
	_, err := bufio.NewReader(resp.Body).WriteTo(buf)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", buf.String())

	resp = f.get(t, "/images/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestActiveEvents(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/active/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
				lines <- data
			}
		}
	}()

	next := func() string {
		select {
		case l := <-lines:
			return l
		case <-time.After(5 * time.Second):
			t.Fatal("no event")
			return ""
		}
	}

	assert.Equal(t, "null", next(), "initial state")

	f.identify(t, "B_3")
	var a struct {
		Product ir.Product `json:"product"`
	}
	require.NoError(t, json.Unmarshal([]byte(next()), &a))
	assert.Equal(t, "B", a.Product.Barcode)

	cancel()
	for range lines {
	}
}
