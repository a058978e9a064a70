package spotpeer

import (
	"database/sql"
	"fmt"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/channel"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/connection"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/service"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/snapshot"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/server"
	"github.com/autopeer-io/spotpeer/internal/spotpeer/server/http"
	"github.com/autopeer-io/spotpeer/pkg/log"
	"github.com/autopeer-io/spotpeer/pkg/options"
)

type Config struct {
	HttpOptions       *options.HttpOptions
	MqttOptions       *options.MqttOptions
	RedisOptions      *options.RedisOptions
	SnapshotOptions   *options.SnapshotOptions
	PostgresOptions   *options.PostgresOptions
	ConnectionOptions *options.ConnectionOptions
	LotOptions        *options.LotOptions
}

func (cfg *Config) NewServer() (*Server, error) {
	logger := log.Std()

	// 1. Snapshot source
	fetcher, db, err := cfg.newFetcher(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init snapshot fetcher: %w", err)
	}

	// 2. Push channel
	dialer, err := cfg.newDialer(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init push channel: %w", err)
	}
	conn := connection.NewManager(dialer, connection.Config{
		Reconnect:      cfg.ConnectionOptions.Reconnect,
		MaxAttempts:    cfg.ConnectionOptions.MaxAttempts,
		Delay:          cfg.ConnectionOptions.Delay,
		ConnectTimeout: cfg.ConnectionOptions.ConnectTimeout,
	}, connection.WithLogger(logger))

	// 3. Core view
	view := service.New(fetcher, conn, service.Config{
		FetchTimeout:    cfg.SnapshotOptions.Timeout,
		RefreshInterval: cfg.SnapshotOptions.RefreshInterval,
	}, service.WithLogger(logger))

	// 4. Ingress
	srvManager := server.NewManager(http.NewServer(cfg.HttpOptions, view, logger))

	s := &Server{
		view:          view,
		serverManager: srvManager,
		db:            db,
	}
	s.SetLot(cfg.LotOptions.ID)
	return s, nil
}

func (cfg *Config) newFetcher(logger log.Logger) (snapshot.Fetcher, *sql.DB, error) {
	switch cfg.SnapshotOptions.Source {
	case options.SnapshotSourcePostgres:
		db, err := snapshot.OpenPostgres(cfg.PostgresOptions.DSN)
		if err != nil {
			return nil, nil, err
		}
		f, err := snapshot.NewPostgresFetcher(db, cfg.PostgresOptions.Table, logger)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return f, db, nil
	case options.SnapshotSourceHTTP:
		return snapshot.NewHTTPFetcher(snapshot.HTTPConfig{
			BaseURL:    cfg.SnapshotOptions.BaseURL,
			Token:      cfg.SnapshotOptions.Token,
			Timeout:    cfg.SnapshotOptions.Timeout,
			RetryCount: cfg.SnapshotOptions.RetryCount,
			RetryWait:  cfg.SnapshotOptions.RetryWait,
		}, logger), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown snapshot source %q", cfg.SnapshotOptions.Source)
	}
}

func (cfg *Config) newDialer(logger log.Logger) (connection.Dialer, error) {
	switch cfg.ConnectionOptions.Transport {
	case options.TransportMQTT:
		return channel.NewMQTTDialer(channel.MQTTConfig{
			Client: cfg.MqttOptions.ToClientConfig(cfg.ConnectionOptions.ConnectTimeout),
			Root:   cfg.MqttOptions.TopicRoot,
			QoS:    cfg.MqttOptions.QoS,
		}, logger), nil
	case options.TransportRedis:
		return channel.NewRedisDialer(channel.RedisConfig{
			Addr:     cfg.RedisOptions.Addr,
			Password: cfg.RedisOptions.Password,
			DB:       cfg.RedisOptions.DB,
			Prefix:   cfg.RedisOptions.Prefix,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.ConnectionOptions.Transport)
	}
}
