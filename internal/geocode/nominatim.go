package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tiewasters99/ispy-game/internal/game"
)

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	DefaultUserAgent = "ISpyRoadTrip/1.0 (educational-game)"
)

// ProviderError is a non-2xx answer from the geocoding service.
type ProviderError struct {
	Status int
}

func (e *ProviderError) Error() string { return fmt.Sprintf("nominatim error: status=%d", e.Status) }

// Place is the coarse address of a coordinate.
type Place struct {
	City        string `json:"city"`
	County      string `json:"county"`
	State       string `json:"state"`
	Country     string `json:"country"`
	DisplayName string `json:"displayName"`
}

// Client reverse-geocodes through Nominatim.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	UserAgent  string
	log        zerolog.Logger
}

func NewClient(logger zerolog.Logger) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		BaseURL:    DefaultBaseURL,
		UserAgent:  DefaultUserAgent,
		log:        logger.With().Str("component", "geocode").Logger(),
	}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		Hamlet  string `json:"hamlet"`
		County  string `json:"county"`
		State   string `json:"state"`
		Country string `json:"country"`
	} `json:"address"`
}

func (r reverseResponse) place() Place {
	a := r.Address
	return Place{
		City:        firstNonEmpty(a.City, a.Town, a.Village, a.Hamlet),
		County:      a.County,
		State:       a.State,
		Country:     a.Country,
		DisplayName: r.DisplayName,
	}
}

// Reverse looks up the place at lat, lon.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("format", "json")
	q.Set("zoom", "10")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return Place{}, err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Place{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Place{}, &ProviderError{Status: resp.StatusCode}
	}
	var out reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Place{}, fmt.Errorf("nominatim decode: %w", err)
	}
	return out.place(), nil
}

// Locate resolves a GPS fix into a game location. Lookup failures are
// logged and the location keeps only its coordinates.
func (c *Client) Locate(ctx context.Context, lat, lon float64) game.Location {
	loc := game.Location{Latitude: lat, Longitude: lon}
	p, err := c.Reverse(ctx, lat, lon)
	if err != nil {
		c.log.Warn().Err(err).Msg("reverse geocode failed")
		return loc
	}
	loc.City, loc.County, loc.Region = p.City, p.County, p.State
	return loc
}

// Label is what players see for a location: "City, Region" when known,
// the raw coordinates otherwise.
func Label(loc game.Location) string {
	switch {
	case loc.City != "" && loc.Region != "":
		return loc.City + ", " + loc.Region
	case loc.City != "":
		return loc.City
	case loc.HasCoordinates():
		return FormatCoordinates(loc.Latitude, loc.Longitude)
	}
	return "Unknown location"
}

// FormatCoordinates renders a fix as e.g. "41.8781°N, 87.6298°W".
func FormatCoordinates(lat, lon float64) string {
	ns, ew := "N", "E"
	if lat < 0 {
		ns = "S"
	}
	if lon < 0 {
		ew = "W"
	}
	return fmt.Sprintf("%.4f°%s, %.4f°%s", math.Abs(lat), ns, math.Abs(lon), ew)
}

// ParseCoordinates validates query parameters.
func ParseCoordinates(latRaw, lonRaw string) (float64, float64, error) {
	if latRaw == "" || lonRaw == "" {
		return 0, 0, errMissingCoordinates
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("bad latitude %q", latRaw)
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("bad longitude %q", lonRaw)
	}
	return lat, lon, nil
}

var errMissingCoordinates = errors.New("missing lat/lon parameters")

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
