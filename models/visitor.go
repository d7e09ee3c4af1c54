package models

import "time"

// Visitor is one record per distinct network address ever seen.
// The enrichment payload is fetched once, at creation, and never refreshed.
type Visitor struct {
	Address    string     `json:"address"`
	VisitCount int64      `json:"visitCount"`
	UserAgent  *string    `json:"userAgent,omitempty"`
	Enrichment Enrichment `json:"enrichment"`
	FirstVisit time.Time  `json:"firstVisit"`
	LastVisit  time.Time  `json:"lastVisit"`
}

// Enrichment holds the geo/network metadata returned by the IP lookup
// service. All fields are optional; a sub-record the upstream omitted is
// an empty struct here, not a nil.
type Enrichment struct {
	IsEU          *bool    `json:"is_eu,omitempty"`
	City          *string  `json:"city,omitempty"`
	Region        *string  `json:"region,omitempty"`
	RegionCode    *string  `json:"region_code,omitempty"`
	CountryName   *string  `json:"country_name,omitempty"`
	CountryCode   *string  `json:"country_code,omitempty"`
	ContinentName *string  `json:"continent_name,omitempty"`
	ContinentCode *string  `json:"continent_code,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	Postal        *string  `json:"postal,omitempty"`
	CallingCode   *string  `json:"calling_code,omitempty"`
	Flag          *string  `json:"flag,omitempty"`

	Carrier  Carrier      `json:"carrier"`
	Language Language     `json:"language"`
	Currency Currency     `json:"currency"`
	TimeZone TimeZoneInfo `json:"time_zone"`
	Threat   Threat       `json:"threat"`
	ASN      ASN          `json:"asn"`
}

type Carrier struct {
	Name *string `json:"name,omitempty"`
	MCC  *string `json:"mcc,omitempty"`
	MNC  *string `json:"mnc,omitempty"`
}

type Language struct {
	Name   *string `json:"name,omitempty"`
	Native *string `json:"native,omitempty"`
}

type Currency struct {
	Name   *string `json:"name,omitempty"`
	Code   *string `json:"code,omitempty"`
	Symbol *string `json:"symbol,omitempty"`
	Native *string `json:"native,omitempty"`
	Plural *string `json:"plural,omitempty"`
}

type TimeZoneInfo struct {
	Name        *string `json:"name,omitempty"`
	Abbr        *string `json:"abbr,omitempty"`
	Offset      *string `json:"offset,omitempty"`
	IsDST       *bool   `json:"is_dst,omitempty"`
	CurrentTime *string `json:"current_time,omitempty"`
}

type Threat struct {
	IsTor           *bool `json:"is_tor,omitempty"`
	IsProxy         *bool `json:"is_proxy,omitempty"`
	IsAnonymous     *bool `json:"is_anonymous,omitempty"`
	IsKnownAttacker *bool `json:"is_known_attacker,omitempty"`
	IsKnownAbuser   *bool `json:"is_known_abuser,omitempty"`
	IsThreat        *bool `json:"is_threat,omitempty"`
	IsBogon         *bool `json:"is_bogon,omitempty"`
}

type ASN struct {
	ASN    *string `json:"asn,omitempty"`
	Name   *string `json:"name,omitempty"`
	Domain *string `json:"domain,omitempty"`
	Route  *string `json:"route,omitempty"`
	Type   *string `json:"type,omitempty"`
}

// CountryCodeOrEmpty is used when writing visit events to ClickHouse,
// where the column is a plain string.
func (e Enrichment) CountryCodeOrEmpty() string {
	if e.CountryCode == nil {
		return ""
	}
	return *e.CountryCode
}

// VisitEvent is one accepted visit, appended to the ClickHouse log.
type VisitEvent struct {
	EventID    string    `json:"eventId"`
	Address    string    `json:"address"`
	Country    string    `json:"country"`
	UserAgent  string    `json:"userAgent"`
	NewVisitor bool      `json:"newVisitor"`
	VisitTime  time.Time `json:"visitTime"`
}

type TopCountryResult struct {
	Country string `json:"country"`
	Count   uint64 `json:"count"`
}
