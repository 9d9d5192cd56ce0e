package util

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/ragtrust/internal/logger"
)

// maxRobotsBytes caps how much of a robots.txt file is read
const maxRobotsBytes = 512 << 10

// RobotsPolicy is the robots.txt verdict for one URL
type RobotsPolicy struct {
	Allowed    bool
	CrawlDelay time.Duration
}

// RobotsChecker answers robots.txt questions per origin. Each origin's file
// is fetched once; concurrent lookups for the same origin share a request.
type RobotsChecker struct {
	client *http.Client
	agent  string // product token matched against User-agent lines
	header string // full User-Agent sent with the request

	flight singleflight.Group
	mu     sync.RWMutex
	rules  map[string]*robotstxt.RobotsData
}

// NewRobotsChecker creates a checker that fetches robots.txt with client
func NewRobotsChecker(client *http.Client, userAgent string) *RobotsChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return &RobotsChecker{
		client: client,
		agent:  ProductToken(userAgent),
		header: userAgent,
		rules:  make(map[string]*robotstxt.RobotsData),
	}
}

// Check returns whether rawURL may be fetched and the crawl delay to honour.
// An unreachable robots.txt allows everything.
func (r *RobotsChecker) Check(ctx context.Context, rawURL string) (RobotsPolicy, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return RobotsPolicy{}, fmt.Errorf("parse URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return RobotsPolicy{}, fmt.Errorf("parse URL: %q is not absolute", rawURL)
	}

	data := r.load(ctx, u.Scheme+"://"+u.Host)

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	policy := RobotsPolicy{Allowed: data.TestAgent(path, r.agent)}
	if group := data.FindGroup(r.agent); group != nil {
		policy.CrawlDelay = group.CrawlDelay
	}
	return policy, nil
}

func (r *RobotsChecker) load(ctx context.Context, origin string) *robotstxt.RobotsData {
	r.mu.RLock()
	data, ok := r.rules[origin]
	r.mu.RUnlock()
	if ok {
		return data
	}

	v, _, _ := r.flight.Do(origin, func() (any, error) {
		data, err := r.fetch(ctx, origin+"/robots.txt")
		if err != nil {
			logger.Debug("robots.txt for %s unavailable: %v", origin, err)
			data = allowAll()
		}
		r.mu.Lock()
		r.rules[origin] = data
		r.mu.Unlock()
		return data, nil
	})
	return v.(*robotstxt.RobotsData)
}

// fetch downloads and parses one robots.txt. 4xx allows everything and
// 5xx disallows everything, as robotstxt.FromStatusAndBytes defines.
func (r *RobotsChecker) fetch(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.header)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}

// Forget drops every cached robots.txt
func (r *RobotsChecker) Forget() {
	r.mu.Lock()
	r.rules = make(map[string]*robotstxt.RobotsData)
	r.mu.Unlock()
}

func allowAll() *robotstxt.RobotsData {
	data, _ := robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	return data
}

// ProductToken reduces a User-Agent like "ragtrust/0.1 (+url)" to "ragtrust"
func ProductToken(ua string) string {
	fields := strings.Fields(ua)
	if len(fields) == 0 {
		return ua
	}
	product, _, _ := strings.Cut(fields[0], "/")
	return product
}
