package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestExtractToken(t *testing.T) {
	for _, tt := range []struct {
		name, page, want string
	}{
		{"meta", `<html><head><meta name="csrf-token" content="m-123"></head></html>`, "m-123"},
		{"meta case", `<meta name="CSRF-Token" content="m-456">`, "m-456"},
		{"hidden input", `<form><input type="hidden" name="csrf_token" value="i-789"></form>`, "i-789"},
		{"none", `<html><body><p>hi</p></body></html>`, ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractToken(strings.NewReader(tt.page))
			if err != nil {
				t.Fatalf("ExtractToken: %v", err)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPageTokenCachesAndSharesCookies(t *testing.T) {
	var fetches int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fetches++
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "s1", Path: "/"})
			io.WriteString(w, `<meta name="csrf-token" content="tok">`)
		case "/chatbot":
			c, err := r.Cookie("session")
			if err != nil || c.Value != "s1" {
				t.Errorf("session cookie not replayed: %v", err)
			}
			if r.Header.Get(DefaultTokenHeader) != "tok" {
				t.Errorf("token header = %q", r.Header.Get(DefaultTokenHeader))
			}
			io.WriteString(w, `{"response":"ok"}`)
		}
	}))
	defer srv.Close()

	client := NewTracedClient(time.Second)
	src := &PageToken{URL: srv.URL + "/", Client: client}
	d, tr := newDispatcher(t, srv.URL, func(c *Config) {
		c.Client = client
		c.Tokens = src
	})

	d.SendText(context.Background(), "one")
	d.SendText(context.Background(), "two")
	if fetches != 1 {
		t.Errorf("page fetched %d times, want 1", fetches)
	}
	if tr.Len() != 4 {
		t.Errorf("Len = %d, want 4", tr.Len())
	}

	src.Invalidate()
	if _, err := src.Token(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fetches != 2 {
		t.Errorf("Invalidate did not force a refetch")
	}
}

func TestPageTokenBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	src := &PageToken{URL: srv.URL}
	if _, err := src.Token(context.Background()); err == nil {
		t.Error("expected error for 403 page")
	}
}

func TestPageTokenRemembersFailures(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := &PageToken{URL: srv.URL, RetryAfter: 50 * time.Millisecond}
	for i := 0; i < 3; i++ {
		if _, err := src.Token(context.Background()); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("page fetched %d times within RetryAfter, want 1", n)
	}

	time.Sleep(80 * time.Millisecond)
	src.Token(context.Background())
	if n := fetches.Load(); n != 2 {
		t.Errorf("page fetched %d times after RetryAfter, want 2", n)
	}

	src.Invalidate()
	src.Token(context.Background())
	if n := fetches.Load(); n != 3 {
		t.Errorf("Invalidate did not clear the failure: %d fetches, want 3", n)
	}
}

func TestStaticTokenTrims(t *testing.T) {
	tok, _ := StaticToken("  abc\n").Token(context.Background())
	if tok != "abc" {
		t.Errorf("token = %q", tok)
	}
}
