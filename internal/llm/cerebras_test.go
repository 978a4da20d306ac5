package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCerebras_NoKey(t *testing.T) {
	c := NewCerebrasClient("", "model")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Stream(ctx, Request{Messages: []Message{{Role: "user", Content: "hi"}}}, nil); err == nil {
		t.Fatalf("expected error with missing key")
	}
}

func TestCerebras_HTTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }},
		{"bad_chunk", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("data: not-json\n\n")) }},
		{"empty_stream", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			_, _ = w.Write([]byte("data: [DONE]\n\n"))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			c := NewCerebrasClient("key", "model")
			c.HTTPClient = testClient(srv)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if _, err := c.Stream(ctx, Request{Messages: []Message{{Role: "user", Content: "hi"}}}, nil); err == nil {
				t.Fatalf("expected error; got nil")
			}
		})
	}
}

func TestCerebras_Stream(t *testing.T) {
	var sent chatCompletionsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &sent)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{`{\"speech\"`, `:\"hi\"}`} {
			_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"` + part + `"}}]}` + "\n\n"))
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	c := NewCerebrasClient("key", "model")
	c.HTTPClient = testClient(srv)
	var deltas []string
	out, err := c.Stream(context.Background(), Request{
		System:    "be brief",
		Messages:  []Message{{Role: "user", Content: "hi"}},
		MaxTokens: 512,
		JSON:      true,
	}, func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if out != `{"speech":"hi"}` || strings.Join(deltas, "") != out {
		t.Fatalf("out=%q deltas=%q", out, deltas)
	}
	if len(sent.Messages) != 2 || sent.Messages[0].Role != "system" || !sent.Stream || sent.ResponseFormat == nil {
		t.Fatalf("request=%+v", sent)
	}
}

func testClient(srv *httptest.Server) *http.Client {
	return &http.Client{Timeout: time.Second, Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		req.URL.Scheme = "http"
		req.URL.Host = srv.Listener.Addr().String()
		return http.DefaultTransport.RoundTrip(req)
	})}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
