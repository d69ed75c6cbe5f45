package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/postrelay/internal/relay"
)

const samplePosts = `{
  "posts": [
    {"id": 106, "file": {"url": "https://static.example/106.png"}, "tags": {"artist": ["alice"]}},
    {"id": 105, "file": {"url": null}, "tags": {"artist": ["bob", "carol"]}},
    {"id": 104, "file": {"url": "https://static.example/104.jpg"}, "tags": {}}
  ]
}`

type capturedRequest struct {
	mu    sync.Mutex
	query url.Values
	ua    string
	auth  string
	hits  int
}

func (c *capturedRequest) record(r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.query = r.URL.Query()
	c.ua = r.UserAgent()
	c.auth = r.Header.Get("Authorization")
	c.hits++
}

func newPostsServer(t *testing.T, status int, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/posts.json", r.URL.Path)
		captured.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func newTestFetcher(t *testing.T, cfg Config) *Fetcher {
	t.Helper()
	if cfg.UserAgent == "" {
		cfg.UserAgent = "postrelay-test/1.0"
	}
	if cfg.StartAnchor == 0 {
		cfg.StartAnchor = 2_000_000_000
	}
	f, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestNewRejectsRelativeBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseURL: "e621.net"}, nil)
	require.Error(t, err)
}

func TestFetchDecodesPosts(t *testing.T) {
	t.Parallel()

	srv, captured := newPostsServer(t, http.StatusOK, samplePosts)
	f := newTestFetcher(t, Config{BaseURL: srv.URL + "/", Limit: 3, Tags: "wolf rating:s"})

	posts, err := f.Fetch(context.Background(), &relay.Cursor{Source: "e621", LastID: 103})
	require.NoError(t, err)
	require.Equal(t, []relay.Post{
		{ID: 106, MediaURL: "https://static.example/106.png", HasMedia: true, Artists: []string{"alice"}},
		{ID: 105, Artists: []string{"bob", "carol"}},
		{ID: 104, MediaURL: "https://static.example/104.jpg", HasMedia: true, Artists: []string{}},
	}, posts)

	captured.mu.Lock()
	defer captured.mu.Unlock()
	require.Equal(t, "3", captured.query.Get("limit"))
	require.Equal(t, "wolf rating:s order:id_desc", captured.query.Get("tags"))
	require.Equal(t, "a103", captured.query.Get("page"))
	require.Equal(t, "postrelay-test/1.0", captured.ua)
	require.Empty(t, captured.auth)
}

func TestFetchWithoutCursorAnchorsBeforeStart(t *testing.T) {
	t.Parallel()

	srv, captured := newPostsServer(t, http.StatusOK, `{"posts": []}`)
	f := newTestFetcher(t, Config{BaseURL: srv.URL, StartAnchor: 500})

	posts, err := f.Fetch(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, posts)

	captured.mu.Lock()
	defer captured.mu.Unlock()
	require.Equal(t, "b500", captured.query.Get("page"))
	require.Equal(t, "order:id_desc", captured.query.Get("tags"))
	require.Equal(t, "20", captured.query.Get("limit"))
}

func TestFetchSendsBasicAuth(t *testing.T) {
	t.Parallel()

	srv, captured := newPostsServer(t, http.StatusOK, `{"posts": []}`)
	f := newTestFetcher(t, Config{BaseURL: srv.URL, Login: "relay", APIKey: "k3y"})

	_, err := f.Fetch(context.Background(), nil)
	require.NoError(t, err)

	captured.mu.Lock()
	defer captured.mu.Unlock()
	require.Equal(t, "Basic cmVsYXk6azN5", captured.auth)
}

func TestFetchRepeatedCallsHitServer(t *testing.T) {
	t.Parallel()

	srv, captured := newPostsServer(t, http.StatusOK, `{"posts": []}`)
	f := newTestFetcher(t, Config{BaseURL: srv.URL})

	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), &relay.Cursor{LastID: 50})
		require.NoError(t, err)
	}
	captured.mu.Lock()
	defer captured.mu.Unlock()
	require.Equal(t, 3, captured.hits)
}

func TestFetchNon2xxIsFetchError(t *testing.T) {
	t.Parallel()

	srv, _ := newPostsServer(t, http.StatusServiceUnavailable, `{"success": false}`)
	f := newTestFetcher(t, Config{BaseURL: srv.URL})

	_, err := f.Fetch(context.Background(), nil)
	var fetchErr *relay.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusServiceUnavailable, fetchErr.StatusCode)
}

func TestFetchMalformedBodyIsFetchError(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":      `<html>oops</html>`,
		"missing posts": `{"items": []}`,
		"bad id":        `{"posts": [{"id": 0}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv, _ := newPostsServer(t, http.StatusOK, body)
			f := newTestFetcher(t, Config{BaseURL: srv.URL})

			_, err := f.Fetch(context.Background(), nil)
			var fetchErr *relay.FetchError
			require.ErrorAs(t, err, &fetchErr)
			require.ErrorIs(t, err, errMalformedBody)
		})
	}
}

func TestFetchTimeoutIsFetchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		fmt.Fprint(w, `{"posts": []}`)
	}))
	t.Cleanup(srv.Close)
	f := newTestFetcher(t, Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := f.Fetch(context.Background(), &relay.Cursor{LastID: 1})
	var fetchErr *relay.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Less(t, time.Since(start), time.Second)
}

func TestFetchHonorsContextCancel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		fmt.Fprint(w, `{"posts": []}`)
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	f := newTestFetcher(t, Config{BaseURL: srv.URL, Timeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchCancelIgnoresLateResponse(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	served := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusServiceUnavailable)
		close(served)
	}))
	t.Cleanup(srv.Close)
	f := newTestFetcher(t, Config{BaseURL: srv.URL, Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, nil)
	close(release)

	var fetchErr *relay.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, fetchErr.StatusCode)
	select {
	case <-served:
	case <-time.After(time.Second):
		t.Fatal("abandoned request never completed")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, Config{BaseURL: "https://e621.net", Login: "u", APIKey: "p"})
	var (
		body     []byte
		status   int
		fetchErr error
	)
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &body, &status, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	req := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(req)
	require.Equal(t, "application/json", req.Headers.Get("Accept"))
	require.Equal(t, "Basic dTpw", req.Headers.Get("Authorization"))

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte(`{"posts":[]}`)})
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"posts":[]}`, string(body))

	hooks.onError(&colly.Response{StatusCode: http.StatusTooManyRequests}, errors.New("Too Many Requests"))
	require.Equal(t, http.StatusTooManyRequests, status)
	require.EqualError(t, fetchErr, "Too Many Requests")
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
