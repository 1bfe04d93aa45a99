package types

import (
	"fmt"
	"strings"
	"time"
)

// ColumnType is the declared type of a logical column.
type ColumnType string

const (
	ColumnDate   ColumnType = "date"
	ColumnInt    ColumnType = "int"
	ColumnFloat  ColumnType = "float"
	ColumnString ColumnType = "string"
)

// Logical role names used by the role mapping.
const (
	RoleDate        = "date"
	RoleAmount      = "amount"
	RoleDescription = "description"
	RoleID          = "id"
	RoleCategory    = "category"
	RoleAccount     = "account"
)

// DefaultMaxCacheAge is how long a cached dataset stays fresh.
const DefaultMaxCacheAge = 7 * 24 * time.Hour

// MappingSeparators are the characters that join multiple physical
// columns in one mapping spec, e.g. "Details|Notes".
const MappingSeparators = "|+"

// Column is one configured logical column: its source header name and
// declared type.
type Column struct {
	Name string     `mapstructure:"name" yaml:"name"`
	Type ColumnType `mapstructure:"type" yaml:"type"`
}

// Source identifies the remote container and sub-table the cache is
// built from.
type Source struct {
	SpreadsheetID string `mapstructure:"id" yaml:"id"`
	Worksheet     string `mapstructure:"worksheet" yaml:"worksheet"`
}

// Config is the read-only configuration consumed by the store, queue,
// and reconciliation engine.
type Config struct {
	Source      Source
	Columns     []Column          // ordered logical columns
	Mapping     map[string]string // role -> physical column spec
	Locale      string            // active locale tag, e.g. "en_GB"
	MaxCacheAge time.Duration     // zero means DefaultMaxCacheAge
	DBPath      string            // local cache store location
}

// ParseMappingSpec splits a mapping value into its physical column
// names. Separators are '|' and '+'; empty segments are dropped.
func ParseMappingSpec(spec string) []string {
	parts := strings.FieldsFunc(spec, func(r rune) bool {
		return strings.ContainsRune(MappingSeparators, r)
	})
	var cols []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cols = append(cols, p)
		}
	}
	return cols
}

// ColumnNames returns the configured logical column names in order.
func (c Config) ColumnNames() []string {
	names := make([]string, 0, len(c.Columns))
	for _, col := range c.Columns {
		names = append(names, col.Name)
	}
	return names
}

// ColumnType returns the declared type of a configured column. A column
// absent from the configuration is a headers-invalid failure, never a
// silent default.
func (c Config) ColumnType(name string) (ColumnType, error) {
	for _, col := range c.Columns {
		if col.Name == name {
			return col.Type, nil
		}
	}
	return "", fmt.Errorf("%w: column %q not found in configuration", ErrHeadersInvalid, name)
}

// MaxAge returns the effective cache age limit.
func (c Config) MaxAge() time.Duration {
	if c.MaxCacheAge <= 0 {
		return DefaultMaxCacheAge
	}
	return c.MaxCacheAge
}

// Validate checks that the configuration is internally consistent:
// required roles are mapped, singleton roles map to exactly one column,
// mapped columns exist, and the date and amount roles are backed by
// columns of an accepted type.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("%w: cache db path is empty", ErrNotConfigured)
	}
	if len(c.Columns) == 0 {
		return fmt.Errorf("%w: no columns configured", ErrHeadersInvalid)
	}
	for _, col := range c.Columns {
		switch col.Type {
		case ColumnDate, ColumnInt, ColumnFloat, ColumnString:
		default:
			return fmt.Errorf("%w: column %q has unknown type %q", ErrHeadersInvalid, col.Name, col.Type)
		}
	}

	for _, role := range []string{RoleDate, RoleAmount, RoleDescription} {
		spec, ok := c.Mapping[role]
		if !ok || strings.TrimSpace(spec) == "" {
			return fmt.Errorf("%w: role %q is not mapped", ErrMappingInvalid, role)
		}
		cols := ParseMappingSpec(spec)
		if role != RoleDescription && len(cols) > 1 {
			return fmt.Errorf("%w: role %q maps to %d columns, only %q may be multi-column",
				ErrMappingInvalid, role, len(cols), RoleDescription)
		}
		for _, col := range cols {
			if _, err := c.ColumnType(col); err != nil {
				return fmt.Errorf("%w: role %q references unknown column %q", ErrMappingInvalid, role, col)
			}
		}
	}

	dateCol := ParseMappingSpec(c.Mapping[RoleDate])[0]
	if t, _ := c.ColumnType(dateCol); t != ColumnDate {
		return fmt.Errorf("%w: date role column %q is of type %q, want %q",
			ErrMappingInvalid, dateCol, t, ColumnDate)
	}
	amountCol := ParseMappingSpec(c.Mapping[RoleAmount])[0]
	if t, _ := c.ColumnType(amountCol); t != ColumnFloat && t != ColumnInt {
		return fmt.Errorf("%w: amount role column %q is of type %q, want a numeric type",
			ErrMappingInvalid, amountCol, t)
	}
	return nil
}
