package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Tiewasters99/ispy-game/internal/game"
)

func nominatimStub(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(zerolog.Nop())
	c.BaseURL = srv.URL
	return c
}

func TestReverse_TownFallback(t *testing.T) {
	var ua, zoom string
	c := nominatimStub(t, func(w http.ResponseWriter, r *http.Request) {
		ua, zoom = r.Header.Get("User-Agent"), r.URL.Query().Get("zoom")
		_, _ = w.Write([]byte(`{"display_name":"Galena, Jo Daviess County, Illinois, United States",
			"address":{"town":"Galena","county":"Jo Daviess County","state":"Illinois","country":"United States"}}`))
	})
	p, err := c.Reverse(context.Background(), 42.4167, -90.4290)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if p.City != "Galena" || p.State != "Illinois" || p.County != "Jo Daviess County" {
		t.Fatalf("place=%+v", p)
	}
	if ua != DefaultUserAgent || zoom != "10" {
		t.Fatalf("ua=%q zoom=%q", ua, zoom)
	}
}

func TestLocate_DegradesToCoordinates(t *testing.T) {
	c := nominatimStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	loc := c.Locate(context.Background(), 41.8781, -87.6298)
	if loc.City != "" || loc.Latitude != 41.8781 {
		t.Fatalf("loc=%+v", loc)
	}
	if got := Label(loc); got != "41.8781°N, 87.6298°W" {
		t.Fatalf("label=%q", got)
	}
}

func TestLabel(t *testing.T) {
	cases := []struct {
		loc  game.Location
		want string
	}{
		{game.Location{City: "Moab", Region: "Utah", Latitude: 38.57}, "Moab, Utah"},
		{game.Location{City: "Moab"}, "Moab"},
		{game.Location{Latitude: -33.8688, Longitude: 151.2093}, "33.8688°S, 151.2093°E"},
		{game.Location{}, "Unknown location"},
	}
	for _, tc := range cases {
		if got := Label(tc.loc); got != tc.want {
			t.Fatalf("Label(%+v)=%q want %q", tc.loc, got, tc.want)
		}
	}
}

func TestHandle(t *testing.T) {
	ok := nominatimStub(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"display_name":"x","address":{"hamlet":"Tiny","state":"Ohio"}}`))
	})
	down := nominatimStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	cases := []struct {
		name   string
		client *Client
		query  string
		status int
	}{
		{"ok", ok, "?lat=40.1&lon=-82.9", http.StatusOK},
		{"missing", ok, "?lat=40.1", http.StatusBadRequest},
		{"out_of_range", ok, "?lat=140&lon=2", http.StatusBadRequest},
		{"provider_error", down, "?lat=40.1&lon=-82.9", http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			e.GET("/api/geocode", tc.client.Handle)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/geocode"+tc.query, nil))
			if rec.Code != tc.status {
				t.Fatalf("status=%d want %d body=%s", rec.Code, tc.status, rec.Body.String())
			}
			if tc.status != http.StatusOK {
				return
			}
			var p Place
			if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil || p.City != "Tiny" || p.State != "Ohio" {
				t.Fatalf("place=%+v err=%v", p, err)
			}
			if rec.Header().Get("Cache-Control") != "public, max-age=300" {
				t.Fatalf("cache-control=%q", rec.Header().Get("Cache-Control"))
			}
		})
	}
}
