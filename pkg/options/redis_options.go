package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*RedisOptions)(nil)

// RedisOptions configures the Redis pub/sub push channel.
type RedisOptions struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
	// Prefix namespaces the pub/sub channels: {Prefix}:{kind}.
	Prefix string `json:"prefix" mapstructure:"prefix"`
}

// NewRedisOptions creates a RedisOptions object with default parameters.
func NewRedisOptions() *RedisOptions {
	return &RedisOptions{
		Addr:   "127.0.0.1:6379",
		Prefix: "spotpeer",
	}
}

// Validate checks the Redis options.
func (o *RedisOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, fmt.Errorf("--redis.addr: %w", err))
	}
	if o.DB < 0 {
		errors = append(errors, fmt.Errorf("--redis.db must not be negative"))
	}

	return errors
}

// AddFlags adds flags for RedisOptions to the specified FlagSet.
func (o *RedisOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "redis.addr", o.Addr, "Address of the Redis server.")
	fs.StringVar(&o.Password, "redis.password", o.Password, "Password for the Redis server.")
	fs.IntVar(&o.DB, "redis.db", o.DB, "Redis database index.")
	fs.StringVar(&o.Prefix, "redis.prefix", o.Prefix, "Prefix of the pub/sub channel names.")
}
