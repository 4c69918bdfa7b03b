package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
)

// TokenSource yields the anti-forgery token attached to submissions. An
// empty token with a nil error means none is available; requests go out
// without the header.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a token known up front, e.g. from a flag.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return strings.TrimSpace(string(t)), nil
}

// Invalidator is implemented by token sources that can drop a token the
// backend rejected.
type Invalidator interface {
	Invalidate()
}

const (
	defaultPageTokenTTL = 10 * time.Minute
	defaultRetryAfter   = 30 * time.Second
)

// PageToken scrapes the token from the chat page the way the browser widget
// would read it: a <meta name="csrf-token"> tag, or a hidden csrf_token
// input. The page is refetched once the cached token is older than TTL.
// A failed fetch is remembered for RetryAfter so an unreachable page does
// not stall every message.
type PageToken struct {
	URL        string
	TTL        time.Duration
	RetryAfter time.Duration
	Client     *TracedClient

	mu      sync.Mutex
	token   string
	fetched time.Time
	err     error
	failed  time.Time
}

func (p *PageToken) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ttl := p.TTL
	if ttl <= 0 {
		ttl = defaultPageTokenTTL
	}
	if !p.fetched.IsZero() && time.Since(p.fetched) < ttl {
		return p.token, nil
	}
	retry := p.RetryAfter
	if retry <= 0 {
		retry = defaultRetryAfter
	}
	if p.err != nil && time.Since(p.failed) < retry {
		return "", p.err
	}

	token, err := p.fetch(ctx)
	if err != nil {
		p.err, p.failed = err, time.Now()
		return "", err
	}
	p.token, p.fetched = token, time.Now()
	p.err = nil
	return token, nil
}

// Invalidate forces the next Token call to refetch the page.
func (p *PageToken) Invalidate() {
	p.mu.Lock()
	p.fetched = time.Time{}
	p.err = nil
	p.mu.Unlock()
}

func (p *PageToken) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.URL, nil)
	if err != nil {
		return "", fmt.Errorf("token page: %w", err)
	}
	client := p.Client
	if client == nil {
		client = NewTracedClient(defaultTimeout)
	}
	resp, err := client.Get(req)
	if err != nil {
		return "", fmt.Errorf("token page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("token page: status %d", resp.StatusCode)
	}
	return ExtractToken(resp.Body)
}

// ExtractToken returns the first anti-forgery token found in an HTML
// document, or "" when the page carries none.
func ExtractToken(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse token page: %w", err)
	}
	return findToken(doc), nil
}

func findToken(n *html.Node) string {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "meta":
			if strings.EqualFold(attr(n, "name"), "csrf-token") {
				return attr(n, "content")
			}
		case "input":
			if attr(n, "name") == "csrf_token" {
				return attr(n, "value")
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if tok := findToken(c); tok != "" {
			return tok
		}
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
