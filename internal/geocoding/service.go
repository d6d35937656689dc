package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// httpDoer lets tests substitute the HTTP client.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Service resolves city names to coordinates via Nominatim.
type Service struct {
	client    httpDoer
	baseURL   string
	userAgent string
}

// NewService creates a Nominatim-backed geocoder. baseURL may be empty to use
// the public endpoint.
func NewService(baseURL string) *Service {
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	return &Service{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "dadmatch-api/1.0",
	}
}

// GeocodeCity resolves a city name to its best-ranked location.
// Returns (nil, nil) when the city cannot be resolved; a non-nil error means
// the upstream request itself failed.
func (s *Service) GeocodeCity(ctx context.Context, city string) (*Location, error) {
	if city = strings.TrimSpace(city); city == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", city)
	params.Set("format", "json")
	params.Set("addressdetails", "1")
	params.Set("limit", "5")
	params.Set("accept-language", "en")

	var results []NominatimResult
	if err := s.doRequest(ctx, "search", params, &results); err != nil {
		return nil, err
	}

	for _, r := range results {
		name, country := extractCityCountry(r.Address)
		if name == "" || country == "" {
			continue
		}

		lat, err := strconv.ParseFloat(r.Lat, 64)
		if err != nil {
			continue
		}
		lon, err := strconv.ParseFloat(r.Lon, 64)
		if err != nil {
			continue
		}

		return &Location{
			Latitude:  lat,
			Longitude: lon,
			City:      name,
			Country:   country,
		}, nil
	}

	return nil, nil
}

func (s *Service) doRequest(ctx context.Context, endpoint string, params url.Values, v interface{}) error {
	u := fmt.Sprintf("%s/%s?%s", s.baseURL, endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nominatim API error: %s", resp.Status)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

func extractCityCountry(addr Address) (string, string) {
	city := addr.City
	if city == "" {
		city = addr.Town
	}
	if city == "" {
		city = addr.Village
	}
	if city == "" {
		city = addr.Hamlet
	}
	if city == "" {
		city = addr.Municipality
	}
	if city == "" {
		city = addr.County
	}
	if city == "" {
		city = addr.StateDistrict
	}
	if city == "" {
		city = addr.State
	}
	return city, addr.Country
}

// Distance returns the great-circle distance between two points in kilometers.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0 // Earth radius in km
	dLat := (lat2 - lat1) * (math.Pi / 180.0)
	dLon := (lon2 - lon1) * (math.Pi / 180.0)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*(math.Pi/180.0))*math.Cos(lat2*(math.Pi/180.0))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
