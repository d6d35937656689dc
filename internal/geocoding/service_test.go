package geocoding

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
)

// mockClient is a mock HTTP client
type mockClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockClient) Do(req *http.Request) (*http.Response, error) {
	return m.DoFunc(req)
}

func TestGeocodeCity(t *testing.T) {
	mockResponse := `[
		{
			"lat": "52.3676",
			"lon": "4.9041",
			"display_name": "Amsterdam, Netherlands",
			"address": {
				"city": "Amsterdam",
				"country": "Netherlands"
			}
		}
	]`

	svc := NewService("")
	svc.client = &mockClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: 200,
				Body:       io.NopCloser(bytes.NewBufferString(mockResponse)),
			}, nil
		},
	}

	loc, err := svc.GeocodeCity(context.Background(), "Amsterdam")
	if err != nil {
		t.Fatalf("GeocodeCity returned error: %v", err)
	}
	if loc == nil {
		t.Fatal("Expected a location, got nil")
	}
	if loc.City != "Amsterdam" || loc.Country != "Netherlands" {
		t.Errorf("Unexpected location: %+v", loc)
	}
	if loc.Latitude < 52.3 || loc.Latitude > 52.4 {
		t.Errorf("Unexpected latitude: %v", loc.Latitude)
	}
}

func TestGeocodeCity_EmptyInput(t *testing.T) {
	svc := NewService("")
	svc.client = &mockClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			t.Fatal("HTTP request should not be made for empty input")
			return nil, nil
		},
	}

	loc, err := svc.GeocodeCity(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if loc != nil {
		t.Errorf("Expected nil location for empty input, got %+v", loc)
	}
}

func TestGeocodeCity_NoUsableResult(t *testing.T) {
	svc := NewService("")
	svc.client = &mockClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: 200,
				Body:       io.NopCloser(bytes.NewBufferString(`[{"lat":"1","lon":"2","address":{}}]`)),
			}, nil
		},
	}

	loc, err := svc.GeocodeCity(context.Background(), "Nowhere")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if loc != nil {
		t.Errorf("Expected nil location when address has no city/country, got %+v", loc)
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name     string
		lat1     float64
		lon1     float64
		lat2     float64
		lon2     float64
		expected float64 // approximate expected distance in km
		delta    float64 // acceptable error margin
	}{
		{
			name: "Same location",
			lat1: 52.3676, lon1: 4.9041,
			lat2: 52.3676, lon2: 4.9041,
			expected: 0, delta: 0.1,
		},
		{
			name: "Amsterdam to Utrecht",
			lat1: 52.3676, lon1: 4.9041, // Amsterdam
			lat2: 52.0907, lon2: 5.1214, // Utrecht
			expected: 34, delta: 3,
		},
		{
			name: "New York to London",
			lat1: 40.7128, lon1: -74.0060, // NYC
			lat2: 51.5074, lon2: -0.1278, // London
			expected: 5570, delta: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if result < tt.expected-tt.delta || result > tt.expected+tt.delta {
				t.Errorf("Distance() = %v, expected ~%v (±%v)", result, tt.expected, tt.delta)
			}
		})
	}
}

func TestExtractCityCountry_Fallbacks(t *testing.T) {
	tests := []struct {
		name string
		addr Address
		city string
	}{
		{"city field", Address{City: "Amsterdam", Country: "NL"}, "Amsterdam"},
		{"town fallback", Address{Town: "Volendam", Country: "NL"}, "Volendam"},
		{"village fallback", Address{Village: "Marken", Country: "NL"}, "Marken"},
		{"state fallback", Address{State: "Noord-Holland", Country: "NL"}, "Noord-Holland"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			city, country := extractCityCountry(tt.addr)
			if city != tt.city {
				t.Errorf("Expected city %q, got %q", tt.city, city)
			}
			if country != "NL" {
				t.Errorf("Expected country NL, got %q", country)
			}
		})
	}
}
