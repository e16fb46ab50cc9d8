package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// OSRMService performs route lookups against an OSRM HTTP server. OSRM has
// no geocoder, so Geocode always reports no result; it is used as the
// routing fallback when no Google key is configured.
type OSRMService struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMService(endpoint string) *OSRMService {
	return &OSRMService{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

func (o *OSRMService) Geocode(ctx context.Context, address string) (*models.Coord, error) {
	return nil, nil
}

func (o *OSRMService) Route(ctx context.Context, coords []models.Coord) (Polyline, error) {
	if len(coords) < 2 {
		return nil, nil
	}
	// OSRM route query: /route/v1/driving/{lon1},{lat1};...?geometries=geojson
	parts := make([]string, 0, len(coords))
	for _, c := range coords {
		parts = append(parts, fmt.Sprintf("%.6f,%.6f", c.Lon, c.Lat))
	}
	url := fmt.Sprintf("%s/route/v1/driving/%s?overview=full&geometries=geojson",
		o.Endpoint, strings.Join(parts, ";"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Geometry struct {
				Coordinates [][2]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return nil, nil
	}
	line := make(Polyline, 0, len(out.Routes[0].Geometry.Coordinates))
	for _, c := range out.Routes[0].Geometry.Coordinates {
		// geojson order is lon,lat
		line = append(line, models.Coord{Lat: c[1], Lon: c[0]})
	}
	return line, nil
}
