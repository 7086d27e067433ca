// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"

	"github.com/mlaurent/sellsync/internal/domain/model"
	"github.com/mlaurent/sellsync/internal/domain/port/driven"
)

// ErrRunInProgress is returned when a run is triggered while another run is
// still executing. Overlapping runs are skipped, never queued or raced.
var ErrRunInProgress = errors.New("a sync run is already in progress")

// runState carries the values the pipeline steps hand forward. Credentials
// and the access token travel through this struct explicitly; no step mutates
// the process environment.
type runState struct {
	creds    model.Credentials
	token    model.SellsyToken
	airtable driven.AirtableClient
	stats    model.SyncStats
}

// step is one named stage of the pipeline. The runner executes steps in
// declaration order and aborts on the first failure.
type step struct {
	name model.StepName
	fn   func(ctx context.Context, st *runState) error
}
