// Package collyfetcher implements the posts fetcher using gocolly.
package collyfetcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/postrelay/internal/relay"
)

var _ relay.Fetcher = (*Fetcher)(nil)

// DefaultTimeout bounds one fetch when Config.Timeout is unset.
const DefaultTimeout = 10 * time.Second

// Config controls collector behavior and the posts query.
type Config struct {
	BaseURL     string
	Tags        string
	Limit       int
	StartAnchor int64
	UserAgent   string
	Timeout     time.Duration
	Login       string
	APIKey      string
}

// Fetcher implements relay.Fetcher against an e621-style posts.json endpoint.
// Every call is a single attempt; a failure surfaces as *relay.FetchError.
type Fetcher struct {
	cfg           Config
	endpoint      string
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		endpoint:      base.String() + "/posts.json",
		baseCollector: c,
		logger:        logger.Named("fetcher"),
	}, nil
}

// Fetch retrieves the batch anchored after last, newest first.
func (f *Fetcher) Fetch(ctx context.Context, last *relay.Cursor) ([]relay.Post, error) {
	target := f.requestURL(last)
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent

	start := time.Now()
	res, err := f.runCollector(ctx, collector, target)
	if err != nil {
		return nil, &relay.FetchError{URL: target, StatusCode: res.status, Err: err}
	}

	posts, err := decodePosts(res.body)
	if err != nil {
		return nil, &relay.FetchError{URL: target, StatusCode: res.status, Err: err}
	}
	f.logger.Debug("posts fetched",
		zap.String("url", target),
		zap.Int("count", len(posts)),
		zap.Duration("duration", time.Since(start)),
	)
	return posts, nil
}

// requestURL pages after the cursor, or before the start anchor on the first
// run so history is not backfilled.
func (f *Fetcher) requestURL(last *relay.Cursor) string {
	page := "b" + strconv.FormatInt(f.cfg.StartAnchor, 10)
	if last != nil {
		page = "a" + strconv.FormatInt(last.LastID, 10)
	}
	tags := strings.TrimSpace(f.cfg.Tags + " order:id_desc")
	q := url.Values{}
	q.Set("limit", strconv.Itoa(f.cfg.Limit))
	q.Set("tags", tags)
	q.Set("page", page)
	return f.endpoint + "?" + q.Encode()
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	body *[]byte,
	status *int,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
		if f.cfg.Login != "" && f.cfg.APIKey != "" {
			token := base64.StdEncoding.EncodeToString([]byte(f.cfg.Login + ":" + f.cfg.APIKey))
			r.Headers.Set("Authorization", "Basic "+token)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*status = r.StatusCode
		*body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
}

// visitResult is owned by the visiting goroutine until it is sent on done.
type visitResult struct {
	body   []byte
	status int
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string) (visitResult, error) {
	type outcome struct {
		res visitResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		var (
			res      visitResult
			fetchErr error
		)
		f.configureCollectorHooks(collector, &res.body, &res.status, &fetchErr)
		err := collector.Visit(target)
		switch {
		case fetchErr != nil:
			err = fmt.Errorf("response failed: %w", fetchErr)
		case err != nil:
			err = fmt.Errorf("visit failed: %w", err)
		}
		done <- outcome{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return visitResult{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case out := <-done:
		return out.res, out.err
	}
}

type apiPost struct {
	ID   int64 `json:"id"`
	File struct {
		URL *string `json:"url"`
	} `json:"file"`
	Tags struct {
		Artist []string `json:"artist"`
	} `json:"tags"`
}

type apiEnvelope struct {
	Posts *[]apiPost `json:"posts"`
}

var errMalformedBody = errors.New("malformed posts body")

// decodePosts resolves optional fields once, at the boundary.
func decodePosts(body []byte) ([]relay.Post, error) {
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedBody, err)
	}
	if env.Posts == nil {
		return nil, fmt.Errorf("%w: missing posts field", errMalformedBody)
	}
	posts := make([]relay.Post, 0, len(*env.Posts))
	for _, p := range *env.Posts {
		if p.ID <= 0 {
			return nil, fmt.Errorf("%w: post id %d", errMalformedBody, p.ID)
		}
		post := relay.Post{ID: p.ID, Artists: []string{}}
		if p.File.URL != nil && *p.File.URL != "" {
			post.MediaURL = *p.File.URL
			post.HasMedia = true
		}
		for _, a := range p.Tags.Artist {
			if a = strings.TrimSpace(a); a != "" {
				post.Artists = append(post.Artists, a)
			}
		}
		posts = append(posts, post)
	}
	return posts, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
