// Package confluence is a small client for the Confluence REST API that
// throttles and retries every call.
package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgallion1/ragingest/internal/retry"
)

const (
	DefaultMinInterval = 1500 * time.Millisecond
	fetchTimeout       = 20 * time.Second
	downloadTimeout    = 15 * time.Second
	downloadRetries    = 3
)

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("confluence %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// RetryAfter parses the Retry-After header as seconds or an HTTP date.
func (e *StatusError) RetryAfter() (time.Duration, bool) {
	v := strings.TrimSpace(e.Header.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0), true
	}
	return 0, false
}

// Page is the subset of a content entity the crawler needs.
type Page struct {
	ID       string
	Title    string
	SpaceKey string
	BodyHTML string
	Children []string
}

type contentResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Space struct {
		Key string `json:"key"`
	} `json:"space"`
	Body struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Children struct {
		Page struct {
			Results []struct {
				ID string `json:"id"`
			} `json:"results"`
		} `json:"page"`
	} `json:"children"`
}

// Client talks to one Confluence site with one set of credentials.
type Client struct {
	baseURL    string
	username   string
	token      string
	httpClient *http.Client
	policy     retry.Policy
	log        *slog.Logger

	minInterval time.Duration
	mu          sync.Mutex
	lastCall    time.Time
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

func WithPolicy(p retry.Policy) Option { return func(c *Client) { c.policy = p } }

func WithMinInterval(d time.Duration) Option { return func(c *Client) { c.minInterval = d } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// WithSleep replaces the wait used by both the throttle and the retry policy.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient returns a client for the wiki rooted at baseURL (ending in /wiki).
func NewClient(baseURL, username, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		username:    username,
		token:       token,
		httpClient:  &http.Client{},
		policy:      retry.Default(),
		log:         slog.Default(),
		minInterval: DefaultMinInterval,
		now:         time.Now,
		sleep:       retry.Sleep,
	}
	for _, o := range opts {
		o(c)
	}
	if c.policy.Sleep == nil {
		c.policy.Sleep = c.sleep
	}
	if c.policy.OnRetry == nil {
		c.policy.OnRetry = func(status, attempt int, wait time.Duration) {
			c.log.Warn("confluence retry", "status", status, "attempt", attempt, "wait", wait.String())
		}
	}
	return c
}

// BaseURL returns the wiki root the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchPageWithChildren loads a page's storage body, space and child ids in one request.
func (c *Client) FetchPageWithChildren(ctx context.Context, pageID string) (*Page, error) {
	u := fmt.Sprintf("%s/rest/api/content/%s?expand=%s", c.baseURL, url.PathEscape(pageID),
		url.QueryEscape("body.storage,children.page,space"))

	var out contentResponse
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		if err := c.throttle(ctx); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		defer cancel()

		resp, err := c.get(ctx, u)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch page %s: %w", pageID, err)
	}

	page := &Page{
		ID:       out.ID,
		Title:    out.Title,
		SpaceKey: out.Space.Key,
		BodyHTML: out.Body.Storage.Value,
	}
	if page.ID == "" {
		page.ID = pageID
	}
	for _, child := range out.Children.Page.Results {
		page.Children = append(page.Children, child.ID)
	}
	return page, nil
}

// Download streams the resource at rawURL into dest.
func (c *Client) Download(ctx context.Context, rawURL, dest string) error {
	policy := c.policy.WithMaxRetries(downloadRetries)
	err := policy.Do(ctx, func(ctx context.Context) error {
		if err := c.throttle(ctx); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
		defer cancel()

		resp, err := c.get(ctx, rawURL)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		f, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("create %s: %w", dest, err)
		}
		if _, err := io.Copy(f, resp.Body); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", dest, err)
		}
		return f.Close()
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", rawURL, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, &StatusError{URL: u, StatusCode: resp.StatusCode, Header: resp.Header, Body: string(body)}
	}
	return resp, nil
}

// throttle waits until at least minInterval has passed since the previous call.
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastCall.IsZero() {
		if wait := c.minInterval - c.now().Sub(c.lastCall); wait > 0 {
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	c.lastCall = c.now()
	return nil
}
