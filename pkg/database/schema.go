package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SchemaValidator checks that the credential schema is in place.
type SchemaValidator struct {
	db *sqlx.DB
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(db *sqlx.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	if err := v.ValidateIndexes(); err != nil {
		return err
	}
	return v.ValidateConstraints()
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := []string{
		"api_keys",
		"permissions",
		"api_keys_permissions",
		"tokens",
		"schema_migrations",
	}

	for _, table := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types.
func (v *SchemaValidator) ValidateTableStructure() error {
	apiKeyColumns := map[string]string{
		"key_hash":       "TEXT",
		"client_id":      "TEXT",
		"expires":        "INTEGER",
		"invalidated_at": "INTEGER",
		"created_at":     "INTEGER",
	}
	if err := v.validateColumns("api_keys", apiKeyColumns); err != nil {
		return fmt.Errorf("api_keys table structure invalid: %w", err)
	}

	tokenColumns := map[string]string{
		"token_hash":   "TEXT",
		"api_key_hash": "TEXT",
		"expires":      "INTEGER",
		"used_at":      "INTEGER",
	}
	if err := v.validateColumns("tokens", tokenColumns); err != nil {
		return fmt.Errorf("tokens table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that the lookup indexes exist.
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := []string{
		"idx_api_keys_expires",
		"idx_api_keys_client_id",
		"idx_tokens_expires",
	}

	for _, index := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateConstraints verifies that tokens cannot reference a missing key.
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO tokens (token_hash, api_key_hash, expires)
		VALUES ('schema-check', 'missing-key', 0)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM tokens WHERE token_hash = 'schema-check'")
		return fmt.Errorf("foreign key constraint not enforced: tokens.api_key_hash")
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type columnInfo struct {
	CID          int     `db:"cid"`
	Name         string  `db:"name"`
	Type         string  `db:"type"`
	NotNull      int     `db:"notnull"`
	DefaultValue *string `db:"dflt_value"`
	PK           int     `db:"pk"`
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	var columns []columnInfo
	if err := v.db.Select(&columns, fmt.Sprintf("PRAGMA table_info(%s)", tableName)); err != nil {
		return err
	}

	found := make(map[string]string, len(columns))
	for _, c := range columns {
		found[c.Name] = c.Type
	}

	for name, wantType := range expected {
		gotType, ok := found[name]
		if !ok {
			return fmt.Errorf("column %s not found", name)
		}
		if gotType != wantType {
			return fmt.Errorf("column %s has type %s, expected %s", name, gotType, wantType)
		}
	}
	return nil
}
