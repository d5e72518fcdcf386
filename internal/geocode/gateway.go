// Package geocode resolves addresses to coordinates and back against a
// Nominatim-compatible HTTP service. Every call issues exactly one request:
// there are no retries and no caching at this layer.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/life-stream-dev/bizfolio/internal/config"
	"github.com/life-stream-dev/bizfolio/internal/geo"
	"github.com/life-stream-dev/bizfolio/internal/logger"
	"github.com/life-stream-dev/bizfolio/internal/utils"
)

const (
	DefaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// Resolver is implemented by Gateway and CachedResolver.
type Resolver interface {
	AddressToCoordinate(ctx context.Context, address string) (geo.Coordinate, error)
	CoordinateToAddress(ctx context.Context, coord geo.Coordinate) (Address, error)
}

// Address is the structured result of a reverse lookup.
type Address struct {
	HouseNumber string `json:"house_number"`
	Street      string `json:"street"`
	City        string `json:"city"`
	Postcode    string `json:"postcode"`
	State       string `json:"state"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	DisplayName string `json:"display_name"`
}

// Line renders the address as "street number, postcode city, country", skipping empty parts.
func (a Address) Line() string {
	parts := make([]string, 0, 3)
	if street := strings.TrimSpace(a.Street + " " + a.HouseNumber); street != "" {
		parts = append(parts, street)
	}
	if city := strings.TrimSpace(a.Postcode + " " + a.City); city != "" {
		parts = append(parts, city)
	}
	if a.Country != "" {
		parts = append(parts, a.Country)
	}
	if len(parts) == 0 {
		return a.DisplayName
	}
	return strings.Join(parts, ", ")
}

type Gateway struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

type Option func(*Gateway)

// WithHTTPClient replaces the HTTP client; its Timeout bounds each request.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.client = client
	}
}

func NewGateway(cfg config.GeocodingConfig, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: utils.ParseStringTimeOr(cfg.Timeout, DefaultTimeout)},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

type reverseResult struct {
	Error       string `json:"error"`
	DisplayName string `json:"display_name"`
	Address     struct {
		HouseNumber  string `json:"house_number"`
		Road         string `json:"road"`
		Pedestrian   string `json:"pedestrian"`
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
		Postcode     string `json:"postcode"`
		State        string `json:"state"`
		Country      string `json:"country"`
		CountryCode  string `json:"country_code"`
	} `json:"address"`
}

func (g *Gateway) AddressToCoordinate(ctx context.Context, address string) (geo.Coordinate, error) {
	const op = "address to coordinate"
	address = strings.TrimSpace(address)
	if address == "" {
		return geo.Coordinate{}, newError(op, ErrNotFound, errors.New("empty address"))
	}

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("limit", "1")
	query.Set("q", address)

	var results []searchResult
	if err := g.get(ctx, op, "/search", query, &results); err != nil {
		return geo.Coordinate{}, err
	}
	if len(results) == 0 {
		return geo.Coordinate{}, newError(op, ErrNotFound, fmt.Errorf("address %q", address))
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return geo.Coordinate{}, newError(op, ErrMalformedResponse, fmt.Errorf("latitude %q: %w", results[0].Lat, err))
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return geo.Coordinate{}, newError(op, ErrMalformedResponse, fmt.Errorf("longitude %q: %w", results[0].Lon, err))
	}
	coord := geo.Coordinate{Lat: lat, Lng: lng}
	if err := coord.Validate(); err != nil {
		return geo.Coordinate{}, newError(op, ErrMalformedResponse, err)
	}
	return coord, nil
}

func (g *Gateway) CoordinateToAddress(ctx context.Context, coord geo.Coordinate) (Address, error) {
	const op = "coordinate to address"
	if err := coord.Validate(); err != nil {
		return Address{}, newError(op, ErrNotFound, err)
	}

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", strconv.FormatFloat(coord.Lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(coord.Lng, 'f', -1, 64))

	var result reverseResult
	if err := g.get(ctx, op, "/reverse", query, &result); err != nil {
		return Address{}, err
	}
	if result.Error != "" {
		return Address{}, newError(op, ErrNotFound, errors.New(result.Error))
	}

	a := result.Address
	return Address{
		HouseNumber: a.HouseNumber,
		Street:      firstNonEmpty(a.Road, a.Pedestrian),
		City:        firstNonEmpty(a.City, a.Town, a.Village, a.Municipality),
		Postcode:    a.Postcode,
		State:       a.State,
		Country:     a.Country,
		CountryCode: a.CountryCode,
		DisplayName: result.DisplayName,
	}, nil
}

func (g *Gateway) get(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	endpoint := g.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return newError(op, ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/json")
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	startTime := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		logger.WarnF("Geocoding request %s failed after %v: %v", path, time.Since(startTime), err)
		return newError(op, ErrNetwork, err)
	}
	defer resp.Body.Close()
	logger.DebugF("Geocoding request %s returned %d, cost: %v", path, resp.StatusCode, time.Since(startTime))

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return newError(op, ErrNetwork, fmt.Errorf("unexpected status %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return newError(op, ErrNetwork, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return newError(op, ErrMalformedResponse, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
