package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldMapping maps Airtable column names to the client attributes the sync
// reads. The defaults match the column names of the historical clients table;
// a YAML file can override any subset of them.
type FieldMapping struct {
	Name       string `yaml:"name"`
	Forename   string `yaml:"forename"`
	Email      string `yaml:"email"`
	Phone      string `yaml:"phone"`
	Address    string `yaml:"address"`
	PostalCode string `yaml:"postal_code"`
	Town       string `yaml:"town"`
	SellsyID   string `yaml:"sellsy_id"`
	Country    string `yaml:"country"`
}

// DefaultFieldMapping returns the mapping for the historical clients table.
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		Name:       "Nom",
		Forename:   "Prenom",
		Email:      "Email",
		Phone:      "Téléphone",
		Address:    "Adresse complète",
		PostalCode: "Code postal",
		Town:       "Ville",
		SellsyID:   "ID_Sellsy",
		Country:    "FR",
	}
}

// LoadFieldMapping reads a YAML mapping file and overlays it on the defaults.
// An empty path returns the defaults unchanged.
func LoadFieldMapping(path string) (FieldMapping, error) {
	mapping := DefaultFieldMapping()
	if path == "" {
		return mapping, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return FieldMapping{}, fmt.Errorf("read mapping file %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &mapping); err != nil {
		return FieldMapping{}, fmt.Errorf("parse mapping file %q: %w", path, err)
	}

	return mapping, nil
}
