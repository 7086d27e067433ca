package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mlaurent/sellsync/internal/config"
	"github.com/mlaurent/sellsync/internal/domain/model"
	"github.com/mlaurent/sellsync/internal/domain/port/driven"
	"github.com/mlaurent/sellsync/internal/metrics"
)

// AirtableClientFactory constructs an Airtable client for the credentials
// resolved during the provision step. Credentials arrive per run, so the
// client cannot be built at wiring time.
type AirtableClientFactory func(apiKey, baseID, tableName string) driven.AirtableClient

// SyncService executes the provision → token-init → sync pipeline. One
// service instance serializes its runs: a trigger arriving while a run is
// active gets ErrRunInProgress.
type SyncService struct {
	secrets  driven.SecretStore
	auth     driven.SellsyAuthenticator
	sellsy   driven.SellsyAPI
	tokens   driven.TokenStore
	runStore driven.RunStore
	metrics  *metrics.Metrics

	newAirtable   AirtableClientFactory
	mapping       config.FieldMapping
	filterFormula string

	mu  sync.Mutex // held for the duration of a run
	now func() time.Time
}

// NewSyncService creates a SyncService with all required dependencies.
// metrics may be nil when instrumentation is not wanted (one-shot CLI runs).
func NewSyncService(
	secrets driven.SecretStore,
	auth driven.SellsyAuthenticator,
	sellsy driven.SellsyAPI,
	tokens driven.TokenStore,
	runStore driven.RunStore,
	m *metrics.Metrics,
	newAirtable AirtableClientFactory,
	mapping config.FieldMapping,
	filterFormula string,
) *SyncService {
	return &SyncService{
		secrets:       secrets,
		auth:          auth,
		sellsy:        sellsy,
		tokens:        tokens,
		runStore:      runStore,
		metrics:       m,
		newAirtable:   newAirtable,
		mapping:       mapping,
		filterFormula: filterFormula,
		now:           time.Now,
	}
}

// Execute performs one complete run for the given trigger. It returns the
// finished run record and, when the run failed, the error of the step that
// aborted it. ErrRunInProgress is returned without starting a run when
// another run holds the lock.
func (s *SyncService) Execute(ctx context.Context, trigger model.TriggerKind) (model.SyncRun, error) {
	if !s.mu.TryLock() {
		return model.SyncRun{}, ErrRunInProgress
	}
	defer s.mu.Unlock()

	run := model.SyncRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    model.RunStatusRunning,
		StartedAt: s.now().UTC(),
	}
	s.persistRun(ctx, run)
	if s.metrics != nil {
		s.metrics.RunStarted()
	}
	slog.Info("run started", "run_id", run.ID, "trigger", string(trigger))

	st := &runState{}
	steps := []step{
		{name: model.StepProvision, fn: s.provision},
		{name: model.StepTokenInit, fn: s.tokenInit},
		{name: model.StepSync, fn: s.sync},
	}

	var runErr error
	for i, stp := range steps {
		started := s.now().UTC()
		err := stp.fn(ctx, st)
		result := model.StepResult{
			RunID:     run.ID,
			Name:      stp.name,
			Status:    model.StepStatusSucceeded,
			StartedAt: started,
			Duration:  s.now().UTC().Sub(started),
		}
		if err != nil {
			result.Status = model.StepStatusFailed
			result.Error = err.Error()
			runErr = fmt.Errorf("%s: %w", stp.name, err)
		}
		run.Steps = append(run.Steps, result)
		slog.Info("step finished",
			"run_id", run.ID,
			"step", string(stp.name),
			"status", string(result.Status),
			"duration", result.Duration.Round(time.Millisecond),
		)

		if err != nil {
			// Later steps never execute after a failure; record them as skipped.
			for _, rest := range steps[i+1:] {
				run.Steps = append(run.Steps, model.StepResult{
					RunID:  run.ID,
					Name:   rest.name,
					Status: model.StepStatusSkipped,
				})
			}
			break
		}
	}

	run.FinishedAt = s.now().UTC()
	run.Stats = st.stats
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
	} else {
		run.Status = model.RunStatusSucceeded
	}

	s.persistRun(ctx, run)
	if s.metrics != nil {
		s.metrics.RunFinished(run)
	}
	slog.Info("run finished",
		"run_id", run.ID,
		"status", string(run.Status),
		"duration", run.Duration().Round(time.Millisecond),
		"seen", run.Stats.RecordsSeen,
		"created", run.Stats.RecordsCreated,
		"updated", run.Stats.RecordsUpdated,
		"failed", run.Stats.RecordsFailed,
	)

	return run, runErr
}

// persistRun writes the run to history. Persistence failures are logged, not
// fatal: run history is observability, not a pipeline step.
func (s *SyncService) persistRun(ctx context.Context, run model.SyncRun) {
	if s.runStore == nil {
		return
	}
	if err := s.runStore.Upsert(ctx, run); err != nil {
		slog.Error("persist run failed", "run_id", run.ID, "error", err)
	}
}

// provision resolves the five credentials from the secret store, validates
// them, and constructs the Airtable client for this run.
func (s *SyncService) provision(ctx context.Context, st *runState) error {
	values := make(map[string]string, len(model.SecretNames))
	for _, name := range model.SecretNames {
		v, err := s.secrets.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("resolve secret %s: %w", name, err)
		}
		values[name] = v
	}

	st.creds = model.Credentials{
		AirtableAPIKey:     values[model.SecretAirtableAPIKey],
		AirtableBaseID:     values[model.SecretAirtableBaseID],
		AirtableTableName:  values[model.SecretAirtableTableName],
		SellsyClientID:     values[model.SecretSellsyClientID],
		SellsyClientSecret: values[model.SecretSellsyClientSecret],
	}
	if err := st.creds.Validate(); err != nil {
		return err
	}

	st.airtable = s.newAirtable(st.creds.AirtableAPIKey, st.creds.AirtableBaseID, st.creds.AirtableTableName)
	slog.Debug("provisioned", "base_id", st.creds.AirtableBaseID, "table", st.creds.AirtableTableName)
	return nil
}

// tokenInit obtains the Sellsy access token for this run. A still-valid
// persisted token short-circuits the exchange. The token travels forward in
// the run state only.
func (s *SyncService) tokenInit(ctx context.Context, st *runState) error {
	if persisted := s.persistedToken(ctx); persisted != nil && persisted.Valid(s.now()) {
		st.token = *persisted
		slog.Info("reusing persisted token", "expires_at", persisted.ExpiresAt)
		return nil
	}

	token, err := s.auth.ExchangeToken(ctx, st.creds.SellsyClientID, st.creds.SellsyClientSecret)
	if err != nil {
		return err
	}
	st.token = token
	slog.Info("token obtained", "expires_at", token.ExpiresAt)

	s.storeToken(ctx, token)
	return nil
}

// persistedToken loads the stored token, treating a disabled or failing store
// as "no token".
func (s *SyncService) persistedToken(ctx context.Context) *model.SellsyToken {
	if s.tokens == nil {
		return nil
	}
	token, err := s.tokens.Get(ctx)
	if err != nil {
		if !errors.Is(err, driven.ErrEncryptionKeyNotSet) {
			slog.Warn("load persisted token failed", "error", err)
		}
		return nil
	}
	return token
}

// storeToken persists the freshly obtained token. Failures are logged, not
// fatal: the token in the run state is still usable for this run.
func (s *SyncService) storeToken(ctx context.Context, token model.SellsyToken) {
	if s.tokens == nil {
		return
	}
	if err := s.tokens.Set(ctx, token); err != nil {
		if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
			slog.Debug("token persistence disabled")
		} else {
			slog.Warn("persist token failed", "error", err)
		}
	}
}

// sync reconciles the Airtable table against Sellsy. A record without a
// Sellsy id gets a new individual created and the id written back; a record
// with one gets updated in place. Per-record failures are counted and logged
// but do not abort the step.
func (s *SyncService) sync(ctx context.Context, st *runState) error {
	records, err := st.airtable.ListRecords(ctx, s.filterFormula)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	st.stats.RecordsSeen = len(records)

	for _, record := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.syncRecord(ctx, st, record)
	}

	if st.stats.RecordsSeen > 0 && st.stats.RecordsFailed == st.stats.RecordsSeen {
		return fmt.Errorf("all %d records failed", st.stats.RecordsSeen)
	}

	slog.Info("table reconciled",
		"seen", st.stats.RecordsSeen,
		"created", st.stats.RecordsCreated,
		"updated", st.stats.RecordsUpdated,
		"failed", st.stats.RecordsFailed,
	)
	return nil
}

// syncRecord reconciles a single record, updating the step counters.
func (s *SyncService) syncRecord(ctx context.Context, st *runState, record model.ClientRecord) {
	details := s.detailsFrom(record)
	sellsyID := s.sellsyIDFrom(record)

	if sellsyID == 0 {
		id, err := s.sellsy.CreateIndividual(ctx, st.token, details)
		if err != nil {
			slog.Error("create client failed", "record_id", record.ID, "name", details.Name, "error", err)
			st.stats.RecordsFailed++
			return
		}

		if err := st.airtable.UpdateRecord(ctx, record.ID, map[string]any{s.mapping.SellsyID: id}); err != nil {
			// The individual exists in Sellsy but the id write-back failed; the
			// next run will see the record as unsynced again.
			slog.Error("write back sellsy id failed", "record_id", record.ID, "sellsy_id", id, "error", err)
			st.stats.RecordsFailed++
			return
		}

		st.stats.RecordsCreated++
		slog.Info("client created", "record_id", record.ID, "sellsy_id", id, "name", details.Name)
		return
	}

	if err := s.sellsy.UpdateIndividual(ctx, st.token, sellsyID, details); err != nil {
		slog.Error("update client failed", "record_id", record.ID, "sellsy_id", sellsyID, "error", err)
		st.stats.RecordsFailed++
		return
	}
	st.stats.RecordsUpdated++
	slog.Info("client updated", "record_id", record.ID, "sellsy_id", sellsyID, "name", details.Name)
}

// detailsFrom projects a record's raw fields into ClientDetails using the
// configured mapping.
func (s *SyncService) detailsFrom(record model.ClientRecord) model.ClientDetails {
	return model.ClientDetails{
		Name:        fieldString(record.Fields, s.mapping.Name),
		Forename:    fieldString(record.Fields, s.mapping.Forename),
		Email:       fieldString(record.Fields, s.mapping.Email),
		Phone:       fieldString(record.Fields, s.mapping.Phone),
		AddressLine: fieldString(record.Fields, s.mapping.Address),
		PostalCode:  fieldString(record.Fields, s.mapping.PostalCode),
		Town:        fieldString(record.Fields, s.mapping.Town),
		CountryCode: s.mapping.Country,
	}
}

// sellsyIDFrom extracts the Sellsy id from a record, or 0 when absent.
// Airtable may deliver the column as a number or a string depending on the
// column type.
func (s *SyncService) sellsyIDFrom(record model.ClientRecord) int64 {
	raw, ok := record.Fields[s.mapping.SellsyID]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		return int64(v)
	case json.Number:
		id, _ := v.Int64()
		return id
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0
		}
		return id
	default:
		return 0
	}
}

// fieldString renders one raw field value as a string. Numbers (postal codes
// stored as number columns) are formatted without a decimal part.
func fieldString(fields map[string]any, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// InitTokens performs the standalone token exchange used by the init-tokens
// command. When persist is true the token is written to the token store so
// subsequent runs can reuse it.
func (s *SyncService) InitTokens(ctx context.Context, clientID, clientSecret string, persist bool) (model.SellsyToken, error) {
	if clientID == "" || clientSecret == "" {
		return model.SellsyToken{}, errors.New("client id and client secret are required")
	}

	token, err := s.auth.ExchangeToken(ctx, clientID, clientSecret)
	if err != nil {
		return model.SellsyToken{}, err
	}

	if persist {
		if s.tokens == nil {
			return model.SellsyToken{}, errors.New("token persistence requested but no token store configured")
		}
		if err := s.tokens.Set(ctx, token); err != nil {
			return model.SellsyToken{}, fmt.Errorf("persist token: %w", err)
		}
	}

	return token, nil
}
