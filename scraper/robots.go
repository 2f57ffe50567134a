package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// RobotsCache answers "may we crawl this URL" per host, fetching each host's
// robots.txt at most once between Resets. The orchestrator resets it at the
// start of every run, so a vendor's verdict never outlives the run that
// fetched it.
type RobotsCache struct {
	mu        sync.Mutex
	client    *http.Client
	userAgent string
	groups    map[string]*robotstxt.Group
}

func NewRobotsCache(client *http.Client, userAgent string) *RobotsCache {
	return &RobotsCache{
		client:    client,
		userAgent: userAgent,
		groups:    make(map[string]*robotstxt.Group),
	}
}

// Reset drops every cached verdict so the next check re-reads robots.txt.
func (c *RobotsCache) Reset() {
	c.mu.Lock()
	c.groups = make(map[string]*robotstxt.Group)
	c.mu.Unlock()
}

// Allowed reports whether the vendor's robots rules permit fetching rawURL.
// A host whose robots.txt cannot be fetched or parsed is treated as allowed;
// a 4xx there means no rules published.
func (c *RobotsCache) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("parse url %q: %w", rawURL, err)
	}

	group, err := c.group(ctx, u)
	if err != nil {
		return true, nil
	}
	if group == nil {
		return true, nil
	}
	return group.Test(u.Path), nil
}

func (c *RobotsCache) group(ctx context.Context, u *url.URL) (*robotstxt.Group, error) {
	c.mu.Lock()
	if g, ok := c.groups[u.Host]; ok {
		c.mu.Unlock()
		return g, nil
	}
	c.mu.Unlock()

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
	req, err := http.NewRequestWithContext(ctx, "GET", robotsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, err
	}

	group := data.FindGroup(c.userAgent)

	c.mu.Lock()
	c.groups[u.Host] = group
	c.mu.Unlock()

	return group, nil
}
