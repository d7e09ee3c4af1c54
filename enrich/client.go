package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"trackpoint/api/models"
)

// ErrUpstream marks any failure of the lookup service: transport error,
// non-2xx status, or a payload that does not decode.
var ErrUpstream = errors.New("enrichment lookup failed")

const defaultBaseURL = "https://api.ipdata.co"

// Client resolves a network address into geo/network metadata.
type Client interface {
	Lookup(ctx context.Context, address string) (*models.Enrichment, error)
}

// HTTPClient calls an ipdata-style lookup API. The credential is passed as
// a query parameter on every request. One round trip per lookup: no retry,
// no circuit breaker.
type HTTPClient struct {
	BaseURL  string
	APIKey   string
	HTTPDoer *http.Client
}

func NewHTTPClient(apiKey string) *HTTPClient {
	return &HTTPClient{
		BaseURL: defaultBaseURL,
		APIKey:  apiKey,
		HTTPDoer: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// lookupResponse mirrors the upstream wire shape. Sub-records are pointers
// so that "group absent" is distinguishable from "group present but empty".
type lookupResponse struct {
	IsEU          *bool    `json:"is_eu"`
	City          *string  `json:"city"`
	Region        *string  `json:"region"`
	RegionCode    *string  `json:"region_code"`
	CountryName   *string  `json:"country_name"`
	CountryCode   *string  `json:"country_code"`
	ContinentName *string  `json:"continent_name"`
	ContinentCode *string  `json:"continent_code"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	Postal        *string  `json:"postal"`
	CallingCode   *string  `json:"calling_code"`
	Flag          *string  `json:"flag"`

	Carrier  *models.Carrier      `json:"carrier"`
	Language *models.Language     `json:"language"`
	Currency *models.Currency     `json:"currency"`
	TimeZone *models.TimeZoneInfo `json:"time_zone"`
	Threat   *models.Threat       `json:"threat"`
	ASN      *models.ASN          `json:"asn"`
}

func (c *HTTPClient) Lookup(ctx context.Context, address string) (*models.Enrichment, error) {
	endpoint := fmt.Sprintf("%s/%s?api-key=%s", c.BaseURL, url.PathEscape(address), url.QueryEscape(c.APIKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPDoer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d from lookup service", ErrUpstream, resp.StatusCode)
	}

	var payload lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUpstream, err)
	}

	return payload.toEnrichment(), nil
}

// toEnrichment normalizes the wire payload: nested groups the upstream
// omitted become empty sub-records so callers never see a nil group.
func (r *lookupResponse) toEnrichment() *models.Enrichment {
	e := &models.Enrichment{
		IsEU:          r.IsEU,
		City:          r.City,
		Region:        r.Region,
		RegionCode:    r.RegionCode,
		CountryName:   r.CountryName,
		CountryCode:   r.CountryCode,
		ContinentName: r.ContinentName,
		ContinentCode: r.ContinentCode,
		Latitude:      r.Latitude,
		Longitude:     r.Longitude,
		Postal:        r.Postal,
		CallingCode:   r.CallingCode,
		Flag:          r.Flag,
	}

	if r.Carrier != nil {
		e.Carrier = *r.Carrier
	}
	if r.Language != nil {
		e.Language = *r.Language
	}
	if r.Currency != nil {
		e.Currency = *r.Currency
	}
	if r.TimeZone != nil {
		e.TimeZone = *r.TimeZone
	}
	if r.Threat != nil {
		e.Threat = *r.Threat
	}
	if r.ASN != nil {
		e.ASN = *r.ASN
	}

	return e
}
