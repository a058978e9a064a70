package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*PostgresOptions)(nil)

// PostgresOptions configures the Postgres baseline source.
type PostgresOptions struct {
	DSN   string `json:"dsn" mapstructure:"dsn"`
	Table string `json:"table" mapstructure:"table"`
}

// NewPostgresOptions creates a PostgresOptions object with default parameters.
func NewPostgresOptions() *PostgresOptions {
	return &PostgresOptions{
		Table: "parking_spots",
	}
}

// Validate checks the Postgres options. The DSN is only required when the
// Postgres source is selected, which the caller checks.
func (o *PostgresOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Table == "" {
		errors = append(errors, fmt.Errorf("--postgres.table must not be empty"))
	}

	return errors
}

// AddFlags adds flags for PostgresOptions to the specified FlagSet.
func (o *PostgresOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.DSN, "postgres.dsn", o.DSN, "lib/pq connection string of the backend database.")
	fs.StringVar(&o.Table, "postgres.table", o.Table, "Table holding the parking spots.")
}
