package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/mlaurent/sellsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SecretStore = (*AWSStore)(nil)

// cacheTTL bounds how long a fetched secret payload is reused. Secrets are
// re-fetched at most once per run cadence anyway; the TTL covers manual
// triggers arriving in bursts.
const cacheTTL = 5 * time.Minute

// secretsAPI is the subset of the Secrets Manager client the store uses,
// abstracted for testing with a fake.
type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSStore resolves secrets from a single AWS Secrets Manager secret whose
// value is a JSON object keyed by credential name. The payload is fetched
// once and cached for a short TTL so one run costs one API call.
type AWSStore struct {
	api      secretsAPI
	secretID string

	mu        sync.Mutex
	values    map[string]string
	fetchedAt time.Time
}

// NewAWSStore creates an AWSStore using the default AWS configuration chain
// (env credentials, shared config, instance role).
func NewAWSStore(ctx context.Context, secretID string) (*AWSStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &AWSStore{
		api:      secretsmanager.NewFromConfig(cfg),
		secretID: secretID,
	}, nil
}

// NewAWSStoreWithAPI creates an AWSStore with an injected API client.
// This constructor is intended for testing.
func NewAWSStoreWithAPI(api secretsAPI, secretID string) *AWSStore {
	return &AWSStore{api: api, secretID: secretID}
}

// Get returns the value for the named key within the secret's JSON payload.
// A key absent from the payload resolves to ("", nil).
func (s *AWSStore) Get(ctx context.Context, name string) (string, error) {
	values, err := s.payload(ctx)
	if err != nil {
		return "", err
	}
	return values[name], nil
}

// payload returns the cached secret values, fetching them when stale.
func (s *AWSStore) payload(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.values != nil && time.Since(s.fetchedAt) < cacheTTL {
		return s.values, nil
	}

	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %q: %w", s.secretID, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %q has no string value", s.secretID)
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &values); err != nil {
		return nil, fmt.Errorf("parse secret %q payload: %w", s.secretID, err)
	}

	s.values = values
	s.fetchedAt = time.Now()
	return values, nil
}
