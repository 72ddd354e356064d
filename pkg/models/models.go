package models

import (
	"time"

	dbtypes "github.com/nitesh/meal_match/internal/db"
)

// Informer report statuses.
const (
	StatusOpen      = "open"
	StatusClaimed   = "claimed"
	StatusDelivered = "delivered"
)

// ValidStatus reports whether s is one of the known informer statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusOpen, StatusClaimed, StatusDelivered:
		return true
	}
	return false
}

// Candidate is an informer (sighting) report that donors can be matched against.
// ID identifies the reporting user, so one ID may own several reports.
type Candidate struct {
	RowID       int64        `db:"row_id" json:"row_id,omitempty"`
	ID          string       `db:"uuid" json:"uuid"`
	ImageURL    string       `db:"image_url" json:"image_url"`
	Description string       `db:"description" json:"description"`
	CaptureDate dbtypes.Date `db:"capture_date" json:"capture_date"`
	CaptureTime string       `db:"capture_time" json:"capture_time"`
	Count       int          `db:"count" json:"count"`
	Location    string       `db:"location" json:"location"`
	Latitude    float64      `db:"latitude" json:"latitude"`
	Longitude   float64      `db:"longitude" json:"longitude"`
	Status      string       `db:"status" json:"status"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// DonorReport is a donor meal report; its coordinates are the donor's
// position for matching.
type DonorReport struct {
	RowID        int64        `db:"row_id" json:"row_id,omitempty"`
	ID           string       `db:"uuid" json:"uuid"`
	ImageURL     string       `db:"image_url" json:"image_url"`
	Description  string       `db:"description" json:"description"`
	DonationDate dbtypes.Date `db:"donation_date" json:"donation_date"`
	DonationTime string       `db:"donation_time" json:"donation_time"`
	Quantity     int          `db:"quantity" json:"quantity"`
	Location     string       `db:"location" json:"location"`
	Latitude     float64      `db:"latitude" json:"latitude"`
	Longitude    float64      `db:"longitude" json:"longitude"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}

// Snapshot is the copy of a candidate's descriptive fields taken when a
// match is created. It is never refreshed from the source report.
type Snapshot struct {
	Description string       `db:"description" json:"description"`
	ImageURL    string       `db:"image_url" json:"image_url"`
	CaptureDate dbtypes.Date `db:"capture_date" json:"capture_date"`
	CaptureTime string       `db:"capture_time" json:"capture_time"`
	Count       int          `db:"count" json:"count"`
	Location    string       `db:"location" json:"location"`
	Latitude    float64      `db:"latitude" json:"latitude"`
	Longitude   float64      `db:"longitude" json:"longitude"`
	Status      string       `db:"status" json:"status"`
}

// Match is one persisted donor to informer pairing.
type Match struct {
	ID          int64     `db:"id" json:"id"`
	BatchID     string    `db:"batch_id" json:"batch_id"`
	DonorID     string    `db:"donor_uuid" json:"donor_uuid"`
	CandidateID string    `db:"informer_uuid" json:"informer_uuid"`
	DistanceKm  float64   `db:"distance" json:"distance_km"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`

	Snapshot
}

// Stale reports whether the match should be pruned on the given day.
func (m *Match) Stale(today dbtypes.Date) bool {
	return m.CaptureDate.Before(today) || m.Status == StatusDelivered
}
