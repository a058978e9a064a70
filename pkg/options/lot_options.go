package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*LotOptions)(nil)

// LotOptions selects the lot watched at startup. It is re-read when the
// config file changes.
type LotOptions struct {
	ID int64 `json:"id" mapstructure:"id"`
}

// NewLotOptions creates a LotOptions object with no lot selected.
func NewLotOptions() *LotOptions {
	return &LotOptions{}
}

// Validate checks the lot options.
func (o *LotOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.ID < 0 {
		errors = append(errors, fmt.Errorf("--lot.id must not be negative"))
	}

	return errors
}

// AddFlags adds flags for LotOptions to the specified FlagSet.
func (o *LotOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.Int64Var(&o.ID, "lot.id", o.ID, "Parking lot watched at startup, 0 for none.")
}
