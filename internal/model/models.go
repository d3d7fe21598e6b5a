// Package model defines shared data structures for the sync service.
package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// ProviderFranceTravail is the provider value stored on every row synced
// from the France Travail offers API.
const ProviderFranceTravail = "france_travail"

// RawListing is one record of the upstream "resultats" array.
//
// Payload keeps the bytes exactly as received; Fields is a loosely typed view
// (numbers decoded as json.Number) used by the mapper. Unmarshalling never
// fails on unexpected shapes: a non-object record yields nil Fields.
type RawListing struct {
	ID      string
	Fields  map[string]any
	Payload json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RawListing) UnmarshalJSON(b []byte) error {
	r.Payload = append(json.RawMessage(nil), b...)
	r.Fields = nil
	r.ID = ""

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil
	}
	r.Fields = fields

	switch id := fields["id"].(type) {
	case string:
		r.ID = id
	case json.Number:
		r.ID = id.String()
	}
	return nil
}

// MarshalJSON returns the payload verbatim.
func (r RawListing) MarshalJSON() ([]byte, error) {
	if len(r.Payload) == 0 {
		return []byte("null"), nil
	}
	return r.Payload, nil
}

// Offer is the local projection of a listing, one row of the offres table.
// Nil pointers are stored as SQL NULL.
type Offer struct {
	Provider   string
	ExternalID string

	Title       *string
	Description *string
	CompanyName *string

	LocationLabel *string
	City          *string
	PostalCode    *string
	Latitude      *float64
	Longitude     *float64
	Departement   *string

	ContractType   *string
	WorkTime       *string
	Experience     *string
	EducationLevel *string
	RomeCode       *string
	RomeLabel      *string

	SalaryText       *string
	SalaryMinMonthly *float64
	SalaryMaxMonthly *float64

	SourceURL       *string
	PublishedAt     *time.Time
	UpdatedAtSource *time.Time

	IsActive   bool
	LastSeenAt time.Time

	SourcePayload json.RawMessage
}

// Partition is one disjoint filter subdivision of a sync pass, a French
// departement in practice.
type Partition struct {
	Code string `yaml:"code" json:"code"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// SyncRun mirrors a sync_runs row: the outcome of one sync pass.
type SyncRun struct {
	ID               string
	StartedAt        time.Time
	FinishedAt       time.Time
	LookbackDays     int
	Partitions       int
	PartitionsFailed int
	Fetched          int
	Skipped          int
	Upserted         int
	Deactivated      int64
	Error            string
}
