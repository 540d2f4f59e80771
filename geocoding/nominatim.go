// Package geocoding resolves free-form addresses against a Nominatim
// compatible search API.
package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	syncErrors "github.com/c0deZ3R0/go-rental-sync/errors"
	"github.com/c0deZ3R0/go-rental-sync/listings"
)

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	DefaultUserAgent = "rentald/1.0"

	maxResponseBytes = 1 << 20
)

// Client queries the /search endpoint of a Nominatim server.
type Client struct {
	baseURL   string
	userAgent string
	language  string
	http      *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for lookups.
func WithHTTPClient(cl *http.Client) ClientOption {
	return func(c *Client) {
		c.http = cl
	}
}

// WithUserAgent sets the User-Agent header. Public Nominatim servers reject
// requests without an identifying agent.
func WithUserAgent(agent string) ClientOption {
	return func(c *Client) {
		c.userAgent = agent
	}
}

// WithLanguage sets the accept-language parameter of each lookup.
func WithLanguage(lang string) ClientOption {
	return func(c *Client) {
		c.language = lang
	}
}

// NewClient creates a Client for the server at baseURL, or DefaultBaseURL
// when baseURL is empty.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: DefaultUserAgent,
		http:      &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type place struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Address     struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		State   string `json:"state"`
	} `json:"address"`
}

// city picks the most specific settlement name Nominatim reported.
func (p place) city() string {
	for _, name := range []string{p.Address.City, p.Address.Town, p.Address.Village, p.Address.State} {
		if name != "" {
			return name
		}
	}
	return ""
}

// Lookup returns at most limit places matching address, best first.
func (c *Client) Lookup(ctx context.Context, address string, limit int) ([]listings.Place, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("addressdetails", "1")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("q", address)
	if c.language != "" {
		q.Set("accept-language", c.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, "geocoding.Lookup", "geocoding")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, syncErrors.WrapOpComponentKind(err, "geocoding.Lookup", "geocoding", syncErrors.KindUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, syncErrors.WrapOpComponentKind(fmt.Errorf("unexpected status %d", resp.StatusCode),
			"geocoding.Lookup", "geocoding", syncErrors.KindUnavailable)
	}

	var found []place
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&found); err != nil {
		return nil, syncErrors.WrapOpComponentKind(fmt.Errorf("decode response: %w", err),
			"geocoding.Lookup", "geocoding", syncErrors.KindUnavailable)
	}

	places := make([]listings.Place, 0, len(found))
	for _, p := range found {
		lat, latErr := parseCoordinate(p.Lat)
		lon, lonErr := parseCoordinate(p.Lon)
		if latErr != nil || lonErr != nil {
			continue
		}
		places = append(places, listings.Place{
			Label:     p.DisplayName,
			City:      p.city(),
			Latitude:  lat,
			Longitude: lon,
		})
		if len(places) == limit {
			break
		}
	}
	return places, nil
}

// parseCoordinate accepts both decimal separators.
func parseCoordinate(s string) (float64, error) {
	return strconv.ParseFloat(strings.Replace(strings.TrimSpace(s), ",", ".", 1), 64)
}
