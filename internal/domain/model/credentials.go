package model

import (
	"fmt"
	"strings"
)

// Credential names as resolved from the secret store. These exact names are
// the compatibility surface shared with the previous automation and must not
// be renamed.
const (
	SecretAirtableAPIKey     = "AIRTABLE_API_KEY"
	SecretAirtableBaseID     = "AIRTABLE_BASE_ID"
	SecretAirtableTableName  = "AIRTABLE_TABLE_NAME"
	SecretSellsyClientID     = "SELLSY_CLIENT_ID"
	SecretSellsyClientSecret = "SELLSY_CLIENT_SECRET"
)

// SecretNames lists every credential a run needs, in resolution order.
var SecretNames = []string{
	SecretAirtableAPIKey,
	SecretAirtableBaseID,
	SecretAirtableTableName,
	SecretSellsyClientID,
	SecretSellsyClientSecret,
}

// Credentials bundles the five secret values a run needs. They are resolved
// once during the provision step and passed forward explicitly through the
// run state; nothing in the pipeline mutates the process environment.
type Credentials struct {
	AirtableAPIKey     string
	AirtableBaseID     string
	AirtableTableName  string
	SellsyClientID     string
	SellsyClientSecret string
}

// Validate returns an error naming every missing credential, or nil when all
// five values are present.
func (c Credentials) Validate() error {
	var missing []string
	if c.AirtableAPIKey == "" {
		missing = append(missing, SecretAirtableAPIKey)
	}
	if c.AirtableBaseID == "" {
		missing = append(missing, SecretAirtableBaseID)
	}
	if c.AirtableTableName == "" {
		missing = append(missing, SecretAirtableTableName)
	}
	if c.SellsyClientID == "" {
		missing = append(missing, SecretSellsyClientID)
	}
	if c.SellsyClientSecret == "" {
		missing = append(missing, SecretSellsyClientSecret)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}
