package model

import "time"

// VenueRecord maps a DBLP venue reference (e.g. "db/conf/icse/icse2020.html")
// to the human-readable full name of the venue series.
type VenueRecord struct {
	ID        string    `json:"id,omitempty"`
	Reference string    `json:"reference"`
	FullName  string    `json:"fullName"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}
