// Package source talks to the publication's archive API: paged listing
// retrieval and per-post body retrieval.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// ErrNoContent is returned when a post's body markup is missing.
var ErrNoContent = errors.New("post has no body content")

// Config controls paging and request behaviour.
type Config struct {
	PageSize    int
	PageDelay   time.Duration
	Timeout     time.Duration
	UserAgent   string
	MaxBodySize int

	// OnPage, when set, is called after every non-empty listing page.
	OnPage func(entries int)
}

// Client fetches listing pages and post bodies over HTTP using colly.
type Client struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector
	sleep         func(ctx context.Context, d time.Duration) error
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 12
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}

	return &Client{
		cfg:           cfg,
		logger:        logger,
		baseCollector: c,
		sleep:         Sleep,
	}
}

// FetchArchive returns every original post of the publication at baseURL,
// newest first. Pages are requested until one comes back empty; a short page
// is not treated as the end. Any failed page aborts the whole fetch.
func (c *Client) FetchArchive(ctx context.Context, baseURL string) ([]Post, error) {
	var (
		all    []Post
		offset int
	)
	for page := 0; ; page++ {
		if page > 0 {
			if err := c.sleep(ctx, c.cfg.PageDelay); err != nil {
				return nil, err
			}
		}

		body, err := c.get(ctx, archiveURL(baseURL, offset, c.cfg.PageSize))
		if err != nil {
			return nil, fmt.Errorf("archive page at offset %d: %w", offset, err)
		}

		var posts []Post
		if err := json.Unmarshal(body, &posts); err != nil {
			return nil, fmt.Errorf("decode archive page at offset %d: %w", offset, err)
		}

		c.logger.Debug("archive page fetched",
			zap.Int("offset", offset),
			zap.Int("entries", len(posts)))

		if len(posts) == 0 {
			break
		}
		if c.cfg.OnPage != nil {
			c.cfg.OnPage(len(posts))
		}

		all = append(all, posts...)
		offset += len(posts)
	}

	filtered := make([]Post, 0, len(all))
	for _, p := range all {
		if p.Type == TypeNewsletter {
			filtered = append(filtered, p)
		}
	}
	if dropped := len(all) - len(filtered); dropped > 0 {
		c.logger.Debug("dropped non-original entries", zap.Int("count", dropped))
	}
	return filtered, nil
}

// FetchContent returns the body markup of one post. It never retries.
func (c *Client) FetchContent(ctx context.Context, baseURL, slug string) (string, error) {
	if slug == "" {
		return "", fmt.Errorf("fetch content: empty slug: %w", ErrNoContent)
	}

	body, err := c.get(ctx, contentURL(baseURL, slug))
	if err != nil {
		return "", fmt.Errorf("fetch content %q: %w", slug, err)
	}

	var pc postContent
	if err := json.Unmarshal(body, &pc); err != nil {
		return "", fmt.Errorf("decode content %q: %w", slug, err)
	}
	if strings.TrimSpace(pc.BodyHTML) == "" {
		return "", fmt.Errorf("fetch content %q: %w", slug, ErrNoContent)
	}
	return pc.BodyHTML, nil
}

// get performs one GET through a cloned collector and returns the body.
// Status codes outside 2xx are errors.
func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	var (
		body     []byte
		fetchErr error
	)

	collector := c.baseCollector.Clone()
	collector.Context = ctx
	collector.SetRequestTimeout(c.cfg.Timeout)
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	configureHooks(collector, &body, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("request canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fetchErr
		}
		if err != nil {
			return nil, err
		}
		return body, nil
	}
}

func configureHooks(hooks collectorHooks, body *[]byte, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func archiveURL(baseURL string, offset, limit int) string {
	q := url.Values{}
	q.Set("sort", "new")
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	return strings.TrimRight(baseURL, "/") + "/api/v1/archive?" + q.Encode()
}

func contentURL(baseURL, slug string) string {
	return strings.TrimRight(baseURL, "/") + "/api/v1/posts/" + url.PathEscape(slug)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
