package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Tiewasters99/ispy-game/internal/game"
)

func TestHTTPAgent_Stream(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"type":"speech","speech":"Great guess!"}` + "\n"))
		_, _ = w.Write([]byte(`{"type":"complete","speech":"Great guess!","actions":[{"type":"correct_guess","player":"Ana"}],"remainingCredits":97}` + "\n"))
	}))
	defer srv.Close()

	var preview string
	a := NewHTTPAgent(srv.URL)
	r, err := a.Converse(context.Background(), Request{UserID: "u1", Transcript: "a cow", GameState: game.NewState()}, func(s string) { preview = s })
	if err != nil {
		t.Fatalf("converse: %v", err)
	}
	if preview != "Great guess!" || r.Speech != "Great guess!" {
		t.Fatalf("preview=%q speech=%q", preview, r.Speech)
	}
	if len(r.Actions) != 1 || r.Actions[0].Kind() != game.KindCorrectGuess {
		t.Fatalf("actions=%+v", r.Actions)
	}
	if !r.Credits.Known || r.Credits.Credits != 97 {
		t.Fatalf("credits=%+v", r.Credits)
	}
	if got.UserID != "u1" || got.Transcript != "a cow" {
		t.Fatalf("request=%+v", got)
	}
}

func TestHTTPAgent_Failures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{"payment_required", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"error":"Insufficient credits","credits":4,"required":10}`))
		}, func(t *testing.T, err error) {
			var ce *CreditError
			if !errors.As(err, &ce) || ce.Credits != 4 || ce.Required != 10 {
				t.Fatalf("want CreditError, got %v", err)
			}
		}},
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(500)
			_, _ = w.Write([]byte("oops"))
		}, nil},
		{"stream_error_line", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/x-ndjson")
			_, _ = w.Write([]byte(`{"type":"error","error":"Failed to process"}` + "\n"))
		}, nil},
		{"stream_truncated", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/x-ndjson")
			_, _ = w.Write([]byte(`{"type":"speech","speech":"hi"}` + "\n"))
		}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			a := NewHTTPAgent("http://gamemaster.invalid/api/gamemaster")
			a.HTTPClient = &http.Client{Timeout: time.Second, Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
				req.URL.Scheme = "http"
				req.URL.Host = srv.Listener.Addr().String()
				return http.DefaultTransport.RoundTrip(req)
			})}
			_, err := a.Converse(context.Background(), Request{Transcript: "hi"}, nil)
			if err == nil {
				t.Fatalf("expected error; got nil")
			}
			if tc.check != nil {
				tc.check(t, err)
			}
		})
	}
}

func TestHTTPAgent_PlainJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"speech":"Round two","actions":[{"type":"next_round"}],"remainingCredits":"unlimited"}`))
	}))
	defer srv.Close()
	r, err := NewHTTPAgent(srv.URL).Converse(context.Background(), Request{Transcript: "next"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Speech != "Round two" || !r.Credits.Unlimited {
		t.Fatalf("reply=%+v", r)
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
