package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlaurent/sellsync/internal/config"
	"github.com/mlaurent/sellsync/internal/domain/model"
	"github.com/mlaurent/sellsync/internal/domain/port/driven"
)

// --- fakes ---

type fakeSecrets struct {
	values map[string]string
	err    error
	gets   []string
}

func (f *fakeSecrets) Get(_ context.Context, name string) (string, error) {
	f.gets = append(f.gets, name)
	if f.err != nil {
		return "", f.err
	}
	return f.values[name], nil
}

type fakeAuth struct {
	token model.SellsyToken
	err   error

	calls        int
	clientID     string
	clientSecret string
}

func (f *fakeAuth) ExchangeToken(_ context.Context, clientID, clientSecret string) (model.SellsyToken, error) {
	f.calls++
	f.clientID = clientID
	f.clientSecret = clientSecret
	if f.err != nil {
		return model.SellsyToken{}, f.err
	}
	return f.token, nil
}

type createCall struct {
	token   string
	details model.ClientDetails
}

type updateCall struct {
	token    string
	sellsyID int64
	details  model.ClientDetails
}

type fakeSellsy struct {
	nextID    int64
	createErr error
	updateErr error

	creates []createCall
	updates []updateCall
}

func (f *fakeSellsy) CreateIndividual(_ context.Context, token model.SellsyToken, details model.ClientDetails) (int64, error) {
	f.creates = append(f.creates, createCall{token: token.AccessToken, details: details})
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeSellsy) UpdateIndividual(_ context.Context, token model.SellsyToken, sellsyID int64, details model.ClientDetails) error {
	f.updates = append(f.updates, updateCall{token: token.AccessToken, sellsyID: sellsyID, details: details})
	return f.updateErr
}

type fakeTokens struct {
	stored *model.SellsyToken
	getErr error
	setErr error
}

func (f *fakeTokens) Set(_ context.Context, token model.SellsyToken) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.stored = &token
	return nil
}

func (f *fakeTokens) Get(_ context.Context) (*model.SellsyToken, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.stored, nil
}

func (f *fakeTokens) Delete(_ context.Context) error {
	f.stored = nil
	return nil
}

type memRunStore struct {
	mu   sync.Mutex
	runs map[string]model.SyncRun
	seen []model.SyncRun
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: make(map[string]model.SyncRun)}
}

func (s *memRunStore) Upsert(_ context.Context, run model.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	s.seen = append(s.seen, run)
	return nil
}

func (s *memRunStore) GetByID(_ context.Context, id string) (*model.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (s *memRunStore) ListRecent(_ context.Context, limit int) ([]model.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SyncRun, 0, limit)
	for _, run := range s.runs {
		out = append(out, run)
	}
	return out, nil
}

type fakeAirtable struct {
	records  []model.ClientRecord
	listErr  error
	patchErr error

	listFilters []string
	patches     map[string]map[string]any

	// blockList, when non-nil, is closed by the test to release ListRecords.
	blockList chan struct{}
	listing   chan struct{}
}

func (f *fakeAirtable) ListRecords(_ context.Context, filterFormula string) ([]model.ClientRecord, error) {
	f.listFilters = append(f.listFilters, filterFormula)
	if f.listing != nil {
		close(f.listing)
		f.listing = nil
	}
	if f.blockList != nil {
		<-f.blockList
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.records, nil
}

func (f *fakeAirtable) UpdateRecord(_ context.Context, recordID string, fields map[string]any) error {
	if f.patchErr != nil {
		return f.patchErr
	}
	if f.patches == nil {
		f.patches = make(map[string]map[string]any)
	}
	f.patches[recordID] = fields
	return nil
}

// --- harness ---

type syncFixture struct {
	secrets  *fakeSecrets
	auth     *fakeAuth
	sellsy   *fakeSellsy
	tokens   *fakeTokens
	runStore *memRunStore
	airtable *fakeAirtable

	factoryCreds []string
	svc          *SyncService
}

func fullSecrets() map[string]string {
	return map[string]string{
		model.SecretAirtableAPIKey:     "key123",
		model.SecretAirtableBaseID:     "appBase42",
		model.SecretAirtableTableName:  "Clients",
		model.SecretSellsyClientID:     "cid-1",
		model.SecretSellsyClientSecret: "csecret-1",
	}
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()

	f := &syncFixture{
		secrets: &fakeSecrets{values: fullSecrets()},
		auth: &fakeAuth{token: model.SellsyToken{
			AccessToken: "tok-abc",
			TokenType:   "Bearer",
			ExpiresAt:   time.Now().Add(time.Hour),
			ObtainedAt:  time.Now(),
		}},
		sellsy:   &fakeSellsy{},
		tokens:   &fakeTokens{},
		runStore: newMemRunStore(),
		airtable: &fakeAirtable{},
	}

	factory := func(apiKey, baseID, tableName string) driven.AirtableClient {
		f.factoryCreds = []string{apiKey, baseID, tableName}
		return f.airtable
	}

	f.svc = NewSyncService(
		f.secrets,
		f.auth,
		f.sellsy,
		f.tokens,
		f.runStore,
		nil,
		factory,
		config.DefaultFieldMapping(),
		"",
	)
	return f
}

func stepStatuses(run model.SyncRun) map[model.StepName]model.StepStatus {
	out := make(map[model.StepName]model.StepStatus, len(run.Steps))
	for _, s := range run.Steps {
		out[s.Name] = s.Status
	}
	return out
}

// --- tests ---

func TestExecute_SuccessRunsStepsInOrder(t *testing.T) {
	f := newSyncFixture(t)
	f.airtable.records = []model.ClientRecord{
		{ID: "rec1", Fields: map[string]any{"Nom": "Dupont", "Prenom": "Jean"}},
	}

	run, err := f.svc.Execute(context.Background(), model.TriggerSchedule)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusSucceeded, run.Status)
	assert.Equal(t, model.TriggerSchedule, run.Trigger)
	assert.Empty(t, run.Error)

	require.Len(t, run.Steps, 3)
	assert.Equal(t, model.StepProvision, run.Steps[0].Name)
	assert.Equal(t, model.StepTokenInit, run.Steps[1].Name)
	assert.Equal(t, model.StepSync, run.Steps[2].Name)
	for _, s := range run.Steps {
		assert.Equal(t, model.StepStatusSucceeded, s.Status)
	}
}

func TestExecute_ManualTriggerSameSteps(t *testing.T) {
	f := newSyncFixture(t)

	run, err := f.svc.Execute(context.Background(), model.TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, model.TriggerManual, run.Trigger)
	require.Len(t, run.Steps, 3)
	assert.Equal(t, model.StepProvision, run.Steps[0].Name)
	assert.Equal(t, model.StepTokenInit, run.Steps[1].Name)
	assert.Equal(t, model.StepSync, run.Steps[2].Name)
}

func TestExecute_CredentialsReachClientsUnmodified(t *testing.T) {
	f := newSyncFixture(t)

	_, err := f.svc.Execute(context.Background(), model.TriggerSchedule)
	require.NoError(t, err)

	assert.Equal(t, []string{"key123", "appBase42", "Clients"}, f.factoryCreds)
	assert.Equal(t, "cid-1", f.auth.clientID)
	assert.Equal(t, "csecret-1", f.auth.clientSecret)
	assert.Equal(t, model.SecretNames, f.secrets.gets)
}

func TestExecute_MissingCredentialSkipsLaterSteps(t *testing.T) {
	f := newSyncFixture(t)
	delete(f.secrets.values, model.SecretSellsyClientSecret)

	run, err := f.svc.Execute(context.Background(), model.TriggerSchedule)
	require.Error(t, err)
	assert.ErrorContains(t, err, "provision")
	assert.ErrorContains(t, err, model.SecretSellsyClientSecret)

	assert.Equal(t, model.RunStatusFailed, run.Status)
	statuses := stepStatuses(run)
	assert.Equal(t, model.StepStatusFailed, statuses[model.StepProvision])
	assert.Equal(t, model.StepStatusSkipped, statuses[model.StepTokenInit])
	assert.Equal(t, model.StepStatusSkipped, statuses[model.StepSync])

	assert.Zero(t, f.auth.calls)
	assert.Empty(t, f.airtable.listFilters)
}

func TestExecute_TokenFailureSkipsSync(t *testing.T) {
	f := newSyncFixture(t)
	f.auth.err = errors.New("invalid_client")

	run, err := f.svc.Execute(context.Background(), model.TriggerSchedule)
	require.Error(t, err)
	assert.ErrorContains(t, err, "token-init")

	statuses := stepStatuses(run)
	assert.Equal(t, model.StepStatusSucceeded, statuses[model.StepProvision])
	assert.Equal(t, model.StepStatusFailed, statuses[model.StepTokenInit])
	assert.Equal(t, model.StepStatusSkipped, statuses[model.StepSync])
	assert.Empty(t, f.airtable.listFilters)
}

func TestExecute_CreatesAndWritesBackSellsyID(t *testing.T) {
	f := newSyncFixture(t)
	f.sellsy.nextID = 900
	f.airtable.records = []model.ClientRecord{
		{ID: "recNew", Fields: map[string]any{
			"Nom":              "Dupont",
			"Prenom":           "Jean",
			"Email":            "jean@example.fr",
			"Téléphone":        "+33611223344",
			"Adresse complète": "1 rue de la Paix",
			"Code postal":      "75002",
			"Ville":            "Paris",
		}},
	}

	run, err := f.svc.Execute(context.Background(), model.TriggerSchedule)
	require.NoError(t, err)

	require.Len(t, f.sellsy.creates, 1)
	created := f.sellsy.creates[0]
	assert.Equal(t, "tok-abc", created.token)
	assert.Equal(t, model.ClientDetails{
		Name:        "Dupont",
		Forename:    "Jean",
		Email:       "jean@example.fr",
		Phone:       "+33611223344",
		AddressLine: "1 rue de la Paix",
		PostalCode:  "75002",
		Town:        "Paris",
		CountryCode: "FR",
	}, created.details)

	require.Contains(t, f.airtable.patches, "recNew")
	assert.Equal(t, map[string]any{"ID_Sellsy": int64(901)}, f.airtable.patches["recNew"])

	assert.Equal(t, model.SyncStats{RecordsSeen: 1, RecordsCreated: 1}, run.Stats)
}

func TestExecute_UpdatesExistingClient(t *testing.T) {
	f := newSyncFixture(t)
	f.airtable.records = []model.ClientRecord{
		{ID: "recOld", Fields: map[string]any{
			"Nom":       "Martin",
			"ID_Sellsy": float64(4242),
		}},
	}

	run, err := f.svc.Execute(context.Background(), model.TriggerSchedule)
	require.NoError(t, err)

	assert.Empty(t, f.sellsy.creates)
	require.Len(t, f.sellsy.updates, 1)
	assert.Equal(t, int64(4242), f.sellsy.updates[0].sellsyID)
	assert.Equal(t, "Martin", f.sellsy.updates[0].details.Name)
	assert.Equal(t, model.SyncStats{RecordsSeen: 1, RecordsUpdated: 1}, run.Stats)
}

func TestExecute_SellsyIDAsString(t *testing.T) {
	f := newSyncFixture(t)
	f.airtable.records = []model.ClientRecord{
		{ID: "rec1", Fields: map[string]any{"Nom": "Petit", "ID_Sellsy": " 1337 "}},
	}

	_, err := f.svc.Execute(context.Background(), model.TriggerSchedule)
	require.NoError(t, err)

	require.Len(t, f.sellsy.updates, 1)
	assert.Equal(t, int64(1337), f.sellsy.updates[0].sellsyID)
}

func TestExecute_PerRecordFailureDoesNotAbortRun(t *testing.T) {
	f := newSyncFixture(t)
	f.airtable.records = []model.ClientRecord{
		{ID: "recFail", Fields: map[string]any{"Nom": "Broken", "ID_Sellsy": float64(1)}},
		{ID: "recOK", Fields: map[string]any{"Nom": "Fine"}},
	}
	f.sellsy.updateErr = errors.New("422 from sellsy")

	run, err := f.svc.Execute(context.Background(), model.TriggerSchedule)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusSucceeded, run.Status)
	assert.Equal(t, model.SyncStats{RecordsSeen: 2, RecordsCreated: 1, RecordsFailed: 1}, run.Stats)
}

func TestExecute_AllRecordsFailingFailsSync(t *testing.T) {
	f := newSyncFixture(t)
	f.airtable.records = []model.ClientRecord{
		{ID: "rec1", Fields: map[string]any{"Nom": "A", "ID_Sellsy": float64(1)}},
		{ID: "rec2", Fields: map[string]any{"Nom": "B", "ID_Sellsy": float64(2)}},
	}
	f.sellsy.updateErr = errors.New("503 from sellsy")

	run, err := f.svc.Execute(context.Background(), model.TriggerSchedule)
	require.Error(t, err)
	assert.ErrorContains(t, err, "all 2 records failed")
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, model.SyncStats{RecordsSeen: 2, RecordsFailed: 2}, run.Stats)
}

func TestExecute_WriteBackFailureCountsAsFailed(t *testing.T) {
	f := newSyncFixture(t)
	f.airtable.records = []model.ClientRecord{
		{ID: "rec1", Fields: map[string]any{"Nom": "Neuf"}},
	}
	f.airtable.patchErr = errors.New("422 from airtable")

	run, err := f.svc.Execute(context.Background(), model.TriggerSchedule)
	require.Error(t, err)
	assert.Equal(t, model.SyncStats{RecordsSeen: 1, RecordsFailed: 1}, run.Stats)
	// The individual got created; only the write-back failed.
	assert.Len(t, f.sellsy.creates, 1)
}

func TestExecute_ReusesValidPersistedToken(t *testing.T) {
	f := newSyncFixture(t)
	f.tokens.stored = &model.SellsyToken{
		AccessToken: "tok-persisted",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	f.airtable.records = []model.ClientRecord{
		{ID: "rec1", Fields: map[string]any{"Nom": "X"}},
	}

	_, err := f.svc.Execute(context.Background(), model.TriggerSchedule)
	require.NoError(t, err)

	assert.Zero(t, f.auth.calls)
	require.Len(t, f.sellsy.creates, 1)
	assert.Equal(t, "tok-persisted", f.sellsy.creates[0].token)
}

func TestExecute_ExpiredPersistedTokenIsExchanged(t *testing.T) {
	f := newSyncFixture(t)
	f.tokens.stored = &model.SellsyToken{
		AccessToken: "tok-stale",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}

	_, err := f.svc.Execute(context.Background(), model.TriggerSchedule)
	require.NoError(t, err)

	assert.Equal(t, 1, f.auth.calls)
	require.NotNil(t, f.tokens.stored)
	assert.Equal(t, "tok-abc", f.tokens.stored.AccessToken)
}

func TestExecute_TokenStoreWithoutKeyIsTolerated(t *testing.T) {
	f := newSyncFixture(t)
	f.tokens.getErr = driven.ErrEncryptionKeyNotSet
	f.tokens.setErr = driven.ErrEncryptionKeyNotSet

	run, err := f.svc.Execute(context.Background(), model.TriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, run.Status)
	assert.Equal(t, 1, f.auth.calls)
}

func TestExecute_ConcurrentRunIsRejected(t *testing.T) {
	f := newSyncFixture(t)
	f.airtable.blockList = make(chan struct{})
	f.airtable.listing = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.svc.Execute(context.Background(), model.TriggerSchedule)
		assert.NoError(t, err)
	}()

	<-f.airtable.listing

	_, err := f.svc.Execute(context.Background(), model.TriggerManual)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(f.airtable.blockList)
	<-done

	// The lock is free again once the first run finishes.
	_, err = f.svc.Execute(context.Background(), model.TriggerManual)
	assert.NoError(t, err)
}

func TestExecute_PersistsRunningThenFinished(t *testing.T) {
	f := newSyncFixture(t)

	run, err := f.svc.Execute(context.Background(), model.TriggerManual)
	require.NoError(t, err)

	require.Len(t, f.runStore.seen, 2)
	assert.Equal(t, model.RunStatusRunning, f.runStore.seen[0].Status)
	assert.Empty(t, f.runStore.seen[0].Steps)
	assert.Equal(t, model.RunStatusSucceeded, f.runStore.seen[1].Status)
	assert.Equal(t, run.ID, f.runStore.seen[1].ID)

	stored, err := f.runStore.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.RunStatusSucceeded, stored.Status)
}

func TestExecute_FilterFormulaForwarded(t *testing.T) {
	f := newSyncFixture(t)
	f.svc.filterFormula = `{Statut}="Actif"`

	_, err := f.svc.Execute(context.Background(), model.TriggerSchedule)
	require.NoError(t, err)

	require.Len(t, f.airtable.listFilters, 1)
	assert.Equal(t, `{Statut}="Actif"`, f.airtable.listFilters[0])
}

func TestInitTokens(t *testing.T) {
	f := newSyncFixture(t)

	token, err := f.svc.InitTokens(context.Background(), "cid-1", "csecret-1", true)
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", token.AccessToken)
	assert.Equal(t, "cid-1", f.auth.clientID)
	require.NotNil(t, f.tokens.stored)
	assert.Equal(t, "tok-abc", f.tokens.stored.AccessToken)
}

func TestInitTokens_NoPersist(t *testing.T) {
	f := newSyncFixture(t)

	_, err := f.svc.InitTokens(context.Background(), "cid-1", "csecret-1", false)
	require.NoError(t, err)
	assert.Nil(t, f.tokens.stored)
}

func TestInitTokens_MissingCredentials(t *testing.T) {
	f := newSyncFixture(t)

	_, err := f.svc.InitTokens(context.Background(), "", "csecret-1", false)
	assert.ErrorContains(t, err, "required")
	assert.Zero(t, f.auth.calls)
}

func TestInitTokens_PersistFailure(t *testing.T) {
	f := newSyncFixture(t)
	f.tokens.setErr = errors.New("disk full")

	_, err := f.svc.InitTokens(context.Background(), "cid-1", "csecret-1", true)
	assert.ErrorContains(t, err, "persist token")
}
