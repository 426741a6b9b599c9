package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"discovery-worker/domain"
)

var ErrLocationNotFound = errors.New("location not found")

type Geocoder interface {
	Resolve(ctx context.Context, text string) (domain.GeoPoint, error)
}

// NominatimGeocoder resolves free-text locations against a Nominatim-style
// /search endpoint.
type NominatimGeocoder struct {
	fetcher PageFetcher
	baseURL string
}

func NewGeocoder(fetcher PageFetcher, baseURL string) *NominatimGeocoder {
	return &NominatimGeocoder{fetcher: fetcher, baseURL: strings.TrimRight(baseURL, "/")}
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func (g *NominatimGeocoder) Resolve(ctx context.Context, text string) (domain.GeoPoint, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.GeoPoint{}, ErrLocationNotFound
	}
	if point, ok := ParseLatLng(text); ok {
		return point, nil
	}

	q := url.Values{}
	q.Set("q", text)
	q.Set("format", "json")
	q.Set("limit", "1")
	resp, err := g.fetcher.Do(ctx, domain.FetchRequest{
		Method:  "GET",
		URL:     g.baseURL + "/search?" + q.Encode(),
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return domain.GeoPoint{}, fmt.Errorf("failed to geocode %q: %w", text, err)
	}

	var places []nominatimPlace
	if err := json.Unmarshal(resp.Body, &places); err != nil {
		return domain.GeoPoint{}, fmt.Errorf("failed to decode geocoder response: %w", err)
	}
	if len(places) == 0 {
		return domain.GeoPoint{}, fmt.Errorf("%w: %q", ErrLocationNotFound, text)
	}

	lat, errLat := strconv.ParseFloat(places[0].Lat, 64)
	lng, errLng := strconv.ParseFloat(places[0].Lon, 64)
	if errLat != nil || errLng != nil {
		return domain.GeoPoint{}, fmt.Errorf("geocoder returned invalid coordinates %q,%q", places[0].Lat, places[0].Lon)
	}
	log.Debug().Str("location", text).Float64("lat", lat).Float64("lng", lng).Msg("geocoder.resolved")
	return domain.GeoPoint{Lat: lat, Lng: lng, DisplayText: places[0].DisplayName}, nil
}

// ParseLatLng accepts "lat,lng" with both values in range.
func ParseLatLng(text string) (domain.GeoPoint, bool) {
	parts := strings.Split(text, ",")
	if len(parts) != 2 {
		return domain.GeoPoint{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return domain.GeoPoint{}, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || lng < -180 || lng > 180 {
		return domain.GeoPoint{}, false
	}
	return domain.GeoPoint{Lat: lat, Lng: lng, DisplayText: text}, true
}
