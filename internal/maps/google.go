package maps

import (
	"context"
	"fmt"

	gmaps "googlemaps.github.io/maps"

	"github.com/example/ride-dispatch/internal/models"
)

// GoogleService backs geocoding and directions with the Google Maps APIs.
type GoogleService struct {
	client *gmaps.Client
}

func NewGoogleService(apiKey string) (*GoogleService, error) {
	client, err := gmaps.NewClient(gmaps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleService{client: client}, nil
}

func (s *GoogleService) Geocode(ctx context.Context, address string) (*models.Coord, error) {
	results, err := s.client.Geocode(ctx, &gmaps.GeocodingRequest{Address: address})
	if err != nil {
		return nil, fmt.Errorf("geocode api error: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	loc := results[0].Geometry.Location
	return &models.Coord{Lat: loc.Lat, Lon: loc.Lng}, nil
}

func (s *GoogleService) Route(ctx context.Context, coords []models.Coord) (Polyline, error) {
	if len(coords) < 2 {
		return nil, nil
	}
	req := &gmaps.DirectionsRequest{
		Origin:      latLng(coords[0]),
		Destination: latLng(coords[len(coords)-1]),
		Mode:        gmaps.TravelModeDriving,
	}
	for _, c := range coords[1 : len(coords)-1] {
		req.Waypoints = append(req.Waypoints, latLng(c))
	}
	routes, _, err := s.client.Directions(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("directions api error: %w", err)
	}
	if len(routes) == 0 {
		return nil, nil
	}
	points, err := routes[0].OverviewPolyline.Decode()
	if err != nil {
		return nil, fmt.Errorf("polyline decode: %w", err)
	}
	out := make(Polyline, 0, len(points))
	for _, p := range points {
		out = append(out, models.Coord{Lat: p.Lat, Lon: p.Lng})
	}
	return out, nil
}

func latLng(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}
