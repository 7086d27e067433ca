package driven

import (
	"context"

	"github.com/mlaurent/sellsync/internal/domain/model"
)

// AirtableClient defines the driven port for reading and writing records of
// the configured Airtable table.
type AirtableClient interface {
	// ListRecords retrieves every record of the table, following offset
	// pagination. filterFormula is an optional Airtable filterByFormula
	// expression; pass "" to list all records.
	ListRecords(ctx context.Context, filterFormula string) ([]model.ClientRecord, error)

	// UpdateRecord patches the given fields of one record, leaving all other
	// fields untouched.
	UpdateRecord(ctx context.Context, recordID string, fields map[string]any) error
}
