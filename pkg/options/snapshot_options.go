package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// Snapshot sources.
const (
	SnapshotSourceHTTP     = "http"
	SnapshotSourcePostgres = "postgres"
)

var _ IOptions = (*SnapshotOptions)(nil)

// SnapshotOptions configures where the baseline comes from and how often it
// is refreshed.
type SnapshotOptions struct {
	Source string `json:"source" mapstructure:"source"`

	// BaseURL is the backend API root, e.g. http://backend:3001/api.
	BaseURL string `json:"base-url" mapstructure:"base-url"`
	Token   string `json:"token" mapstructure:"token"`

	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	RetryCount int           `json:"retry-count" mapstructure:"retry-count"`
	RetryWait  time.Duration `json:"retry-wait" mapstructure:"retry-wait"`

	// RefreshInterval re-fetches the baseline periodically. Zero disables it.
	RefreshInterval time.Duration `json:"refresh-interval" mapstructure:"refresh-interval"`
}

// NewSnapshotOptions creates a SnapshotOptions object with default parameters.
func NewSnapshotOptions() *SnapshotOptions {
	return &SnapshotOptions{
		Source:          SnapshotSourceHTTP,
		BaseURL:         "http://localhost:3001/api",
		Timeout:         10 * time.Second,
		RetryCount:      2,
		RetryWait:       500 * time.Millisecond,
		RefreshInterval: 5 * time.Minute,
	}
}

// Validate checks the snapshot options.
func (o *SnapshotOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	switch o.Source {
	case SnapshotSourceHTTP:
		if err := ValidateURL("snapshot.base-url", o.BaseURL, "http", "https"); err != nil {
			errors = append(errors, err)
		}
	case SnapshotSourcePostgres:
	default:
		errors = append(errors, fmt.Errorf("--snapshot.source must be %q or %q, got %q",
			SnapshotSourceHTTP, SnapshotSourcePostgres, o.Source))
	}
	if o.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("--snapshot.timeout must be positive"))
	}
	if o.RetryCount < 0 {
		errors = append(errors, fmt.Errorf("--snapshot.retry-count must not be negative"))
	}
	if o.RefreshInterval < 0 {
		errors = append(errors, fmt.Errorf("--snapshot.refresh-interval must not be negative"))
	}

	return errors
}

// AddFlags adds flags for SnapshotOptions to the specified FlagSet.
func (o *SnapshotOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Source, "snapshot.source", o.Source, "Baseline source: http or postgres.")
	fs.StringVar(&o.BaseURL, "snapshot.base-url", o.BaseURL, "Root URL of the backend REST API.")
	fs.StringVar(&o.Token, "snapshot.token", o.Token, "Bearer token sent to the backend API.")
	fs.DurationVar(&o.Timeout, "snapshot.timeout", o.Timeout, "Timeout of a single baseline fetch.")
	fs.IntVar(&o.RetryCount, "snapshot.retry-count", o.RetryCount, "Retries of a failed HTTP fetch.")
	fs.DurationVar(&o.RetryWait, "snapshot.retry-wait", o.RetryWait, "Wait between HTTP fetch retries.")
	fs.DurationVar(&o.RefreshInterval, "snapshot.refresh-interval", o.RefreshInterval, "Periodic baseline refresh interval, 0 to disable.")
}
