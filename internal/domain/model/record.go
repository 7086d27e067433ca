package model

import "time"

// ClientRecord is one row of the Airtable clients table, as returned by the
// Airtable REST API. Fields carries the raw column values keyed by column
// name; the application layer projects them into ClientDetails using the
// configured field mapping.
type ClientRecord struct {
	ID          string
	Fields      map[string]any
	CreatedTime time.Time
}

// ClientDetails is the normalized view of a client record used when creating
// or updating the corresponding Sellsy individual.
type ClientDetails struct {
	Name        string
	Forename    string
	Email       string
	Phone       string
	AddressLine string
	PostalCode  string
	Town        string
	CountryCode string
}
