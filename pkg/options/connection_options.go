package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// Push channel transports.
const (
	TransportMQTT  = "mqtt"
	TransportRedis = "redis"
)

var _ IOptions = (*ConnectionOptions)(nil)

// ConnectionOptions configures the push channel lifecycle.
type ConnectionOptions struct {
	Transport      string        `json:"transport" mapstructure:"transport"`
	Reconnect      bool          `json:"reconnect" mapstructure:"reconnect"`
	MaxAttempts    int           `json:"max-attempts" mapstructure:"max-attempts"`
	Delay          time.Duration `json:"delay" mapstructure:"delay"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
}

// NewConnectionOptions creates a ConnectionOptions object with default parameters.
func NewConnectionOptions() *ConnectionOptions {
	return &ConnectionOptions{
		Transport:      TransportMQTT,
		Reconnect:      true,
		MaxAttempts:    5,
		Delay:          3 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// Validate checks the connection options.
func (o *ConnectionOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Transport != TransportMQTT && o.Transport != TransportRedis {
		errors = append(errors, fmt.Errorf("--connection.transport must be %q or %q, got %q",
			TransportMQTT, TransportRedis, o.Transport))
	}
	if o.MaxAttempts < 0 {
		errors = append(errors, fmt.Errorf("--connection.max-attempts must not be negative"))
	}
	if o.Reconnect && o.Delay <= 0 {
		errors = append(errors, fmt.Errorf("--connection.delay must be positive when reconnect is enabled"))
	}
	if o.ConnectTimeout <= 0 {
		errors = append(errors, fmt.Errorf("--connection.connect-timeout must be positive"))
	}

	return errors
}

// AddFlags adds flags for ConnectionOptions to the specified FlagSet.
func (o *ConnectionOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Transport, "connection.transport", o.Transport, "Push channel transport: mqtt or redis.")
	fs.BoolVar(&o.Reconnect, "connection.reconnect", o.Reconnect, "Reconnect automatically after failures.")
	fs.IntVar(&o.MaxAttempts, "connection.max-attempts", o.MaxAttempts, "Consecutive failed dials before giving up, 0 for no limit.")
	fs.DurationVar(&o.Delay, "connection.delay", o.Delay, "Fixed delay between reconnect attempts.")
	fs.DurationVar(&o.ConnectTimeout, "connection.connect-timeout", o.ConnectTimeout, "Timeout of a single dial.")
}
