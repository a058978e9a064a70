package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/spotpeer/cmd/spotpeer/app/options"
	"github.com/autopeer-io/spotpeer/internal/spotpeer"
	"github.com/autopeer-io/spotpeer/pkg/app"
	"github.com/autopeer-io/spotpeer/pkg/log"
)

const (
	commandName = "spotpeer"
	commandDesc = `spotpeer keeps a live, reconciled view of parking spot occupancy.
It loads the baseline of the selected lot from the backend, overlays the
updates pushed over MQTT or Redis and serves the merged view, per-status
statistics and connection state over HTTP.`
)

func NewApp() *app.App {
	opts := options.NewServerOptions()

	var current atomic.Pointer[spotpeer.Server]
	application := app.NewApp(
		commandName,
		"Launch the spotpeer occupancy service",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts, &current)),
		app.WithConfigReload(func() app.NamedFlagSetOptions { return options.NewServerOptions() }, reload(&current)),
	)
	return application
}

func run(opts *options.ServerOptions, current *atomic.Pointer[spotpeer.Server]) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer log.Sync()

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		srv, err := cfg.NewServer()
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}
		current.Store(srv)

		return srv.Run(ctx)
	}
}

// reload re-applies the selected lot after the config file changed. Other
// settings take effect on restart.
func reload(current *atomic.Pointer[spotpeer.Server]) func(app.NamedFlagSetOptions) error {
	return func(o app.NamedFlagSetOptions) error {
		fresh, ok := o.(*options.ServerOptions)
		if !ok {
			return fmt.Errorf("unexpected options type %T", o)
		}
		srv := current.Load()
		if srv == nil {
			return nil
		}
		srv.SetLot(fresh.LotOptions.ID)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.ApplyLot(ctx)
	}
}
