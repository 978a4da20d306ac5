package geocode

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handle serves GET /api/geocode?lat=..&lon=.. so browsers never call
// Nominatim directly.
func (c *Client) Handle(ec echo.Context) error {
	lat, lon, err := ParseCoordinates(ec.QueryParam("lat"), ec.QueryParam("lon"))
	if errors.Is(err, errMissingCoordinates) {
		return ec.JSON(http.StatusBadRequest, map[string]string{"error": "Missing lat/lon parameters"})
	}
	if err != nil {
		return ec.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	place, err := c.Reverse(ec.Request().Context(), lat, lon)
	var pe *ProviderError
	switch {
	case errors.As(err, &pe):
		return ec.JSON(http.StatusBadGateway, map[string]string{"error": "Geocoding service error"})
	case err != nil:
		c.log.Error().Err(err).Msg("geocode failed")
		return ec.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to geocode"})
	}
	ec.Response().Header().Set("Cache-Control", "public, max-age=300")
	return ec.JSON(http.StatusOK, place)
}
