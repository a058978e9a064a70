package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/spotpeer/internal/spotpeer"
	"github.com/autopeer-io/spotpeer/pkg/app"
	"github.com/autopeer-io/spotpeer/pkg/log"
	"github.com/autopeer-io/spotpeer/pkg/options"
)

type ServerOptions struct {
	HttpOptions       *options.HttpOptions       `json:"http" mapstructure:"http"`
	MqttOptions       *options.MqttOptions       `json:"mqtt" mapstructure:"mqtt"`
	RedisOptions      *options.RedisOptions      `json:"redis" mapstructure:"redis"`
	SnapshotOptions   *options.SnapshotOptions   `json:"snapshot" mapstructure:"snapshot"`
	PostgresOptions   *options.PostgresOptions   `json:"postgres" mapstructure:"postgres"`
	ConnectionOptions *options.ConnectionOptions `json:"connection" mapstructure:"connection"`
	LotOptions        *options.LotOptions        `json:"lot" mapstructure:"lot"`
	Log               *log.Options               `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*ServerOptions)(nil)

func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HttpOptions:       options.NewHttpOptions(),
		MqttOptions:       options.NewMqttOptions(),
		RedisOptions:      options.NewRedisOptions(),
		SnapshotOptions:   options.NewSnapshotOptions(),
		PostgresOptions:   options.NewPostgresOptions(),
		ConnectionOptions: options.NewConnectionOptions(),
		LotOptions:        options.NewLotOptions(),
		Log:               log.NewOptions(),
	}
}

func (o *ServerOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.SnapshotOptions.AddFlags(fss.FlagSet("snapshot"))
	o.PostgresOptions.AddFlags(fss.FlagSet("postgres"))
	o.ConnectionOptions.AddFlags(fss.FlagSet("connection"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.LotOptions.AddFlags(fss.FlagSet("lot"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *ServerOptions) Complete() error {
	return nil
}

// Validate checks every group. Transport specific groups are only checked
// when selected.
func (o *ServerOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.SnapshotOptions.Validate()...)
	errs = append(errs, o.ConnectionOptions.Validate()...)
	errs = append(errs, o.LotOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)

	if o.SnapshotOptions.Source == options.SnapshotSourcePostgres {
		errs = append(errs, o.PostgresOptions.Validate()...)
	}
	switch o.ConnectionOptions.Transport {
	case options.TransportMQTT:
		errs = append(errs, o.MqttOptions.Validate()...)
	case options.TransportRedis:
		errs = append(errs, o.RedisOptions.Validate()...)
	}
	return utilerrors.NewAggregate(errs)
}

func (o *ServerOptions) Config() (*spotpeer.Config, error) {
	return &spotpeer.Config{
		HttpOptions:       o.HttpOptions,
		MqttOptions:       o.MqttOptions,
		RedisOptions:      o.RedisOptions,
		SnapshotOptions:   o.SnapshotOptions,
		PostgresOptions:   o.PostgresOptions,
		ConnectionOptions: o.ConnectionOptions,
		LotOptions:        o.LotOptions,
	}, nil
}
