package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string) *HTTPClient {
	c := NewHTTPClient("test-key")
	c.BaseURL = serverURL
	return c
}

func TestLookup_DecodesFullPayload(t *testing.T) {
	var gotPath, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("api-key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"is_eu": false,
			"city": "Mountain View",
			"region": "California",
			"region_code": "CA",
			"country_name": "United States",
			"country_code": "US",
			"continent_name": "North America",
			"continent_code": "NA",
			"latitude": 37.4056,
			"longitude": -122.0775,
			"postal": "94043",
			"calling_code": "1",
			"flag": "https://ipdata.co/flags/us.png",
			"carrier": {"name": "T-Mobile", "mcc": "310", "mnc": "160"},
			"language": {"name": "English", "native": "English"},
			"currency": {"name": "US Dollar", "code": "USD", "symbol": "$", "native": "$", "plural": "US dollars"},
			"time_zone": {"name": "America/Los_Angeles", "abbr": "PDT", "offset": "-0700", "is_dst": true, "current_time": "2025-06-01T05:00:00-07:00"},
			"threat": {"is_tor": false, "is_proxy": false, "is_anonymous": false, "is_known_attacker": false, "is_known_abuser": false, "is_threat": false, "is_bogon": false},
			"asn": {"asn": "AS15169", "name": "Google LLC", "domain": "google.com", "route": "8.8.8.0/24", "type": "business"}
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	enrichment, err := client.Lookup(context.Background(), "8.8.8.8")
	require.NoError(t, err)

	assert.Equal(t, "/8.8.8.8", gotPath)
	assert.Equal(t, "test-key", gotKey, "credential travels as a query parameter")

	require.NotNil(t, enrichment.City)
	assert.Equal(t, "Mountain View", *enrichment.City)
	require.NotNil(t, enrichment.CountryCode)
	assert.Equal(t, "US", *enrichment.CountryCode)
	require.NotNil(t, enrichment.Latitude)
	assert.InDelta(t, 37.4056, *enrichment.Latitude, 0.0001)
	require.NotNil(t, enrichment.Carrier.Name)
	assert.Equal(t, "T-Mobile", *enrichment.Carrier.Name)
	require.NotNil(t, enrichment.TimeZone.IsDST)
	assert.True(t, *enrichment.TimeZone.IsDST)
	require.NotNil(t, enrichment.Threat.IsTor)
	assert.False(t, *enrichment.Threat.IsTor)
	require.NotNil(t, enrichment.ASN.ASN)
	assert.Equal(t, "AS15169", *enrichment.ASN.ASN)
}

func TestLookup_MissingGroupsBecomeEmptyRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"city": "Berlin", "country_code": "DE"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	enrichment, err := client.Lookup(context.Background(), "88.66.1.2")
	require.NoError(t, err)

	require.NotNil(t, enrichment.City)
	assert.Equal(t, "Berlin", *enrichment.City)

	// Omitted groups are empty sub-records, never a decode failure.
	assert.Nil(t, enrichment.Carrier.Name)
	assert.Nil(t, enrichment.Currency.Code)
	assert.Nil(t, enrichment.Threat.IsThreat)
	assert.Nil(t, enrichment.ASN.ASN)
	assert.Nil(t, enrichment.IsEU)
	assert.Nil(t, enrichment.Latitude)
}

func TestLookup_NonSuccessStatusIsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "quota exceeded"}`, http.StatusForbidden)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Lookup(context.Background(), "8.8.8.8")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestLookup_MalformedPayloadIsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"city": `))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Lookup(context.Background(), "8.8.8.8")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestLookup_TransportFailureIsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	client := newTestClient(server.URL)
	_, err := client.Lookup(context.Background(), "8.8.8.8")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
}
