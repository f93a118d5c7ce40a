// cmd/tagwatch/run.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tamzrod/modbus-tagwatch/internal/config"
	"github.com/tamzrod/modbus-tagwatch/internal/logging"
	"github.com/tamzrod/modbus-tagwatch/internal/manager"
	"github.com/tamzrod/modbus-tagwatch/internal/poller"
	pmodbus "github.com/tamzrod/modbus-tagwatch/internal/poller/modbus"
	"github.com/tamzrod/modbus-tagwatch/internal/sink"
	"github.com/tamzrod/modbus-tagwatch/internal/tag"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Poll every configured tag until interrupted (SIGHUP reloads the config)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0])
		},
	}
}

func run(ctx context.Context, path string) error {
	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}

	// --------------------
	// Sinks
	// --------------------

	handlers := sink.Multi{sink.NewLog(logger)}

	if m := cfg.MQTT; m != nil {
		mq := sink.NewMQTT(sink.MQTTConfig{
			Broker:    m.Broker,
			Port:      m.Port,
			ClientID:  m.ClientID,
			RootTopic: m.RootTopic,
			Username:  m.Username,
			Password:  m.Password,
		}, logger)
		if err := mq.Start(); err != nil {
			logger.Warn().Err(err).Msg("mqtt disabled")
		} else {
			defer mq.Stop()
			handlers = append(handlers, mq)
		}
	}

	if sb := cfg.StatusBlock; sb != nil {
		blk := sink.NewStatusBlock(statusBlockDialer(*sb, cfg.Connection), sb.Address, sb.DeviceName, logger)
		blk.Start()
		defer blk.Close()
		handlers = append(handlers, blk)
	}

	// --------------------
	// Pollers
	// --------------------

	m := manager.New(handlers,
		manager.WithLogger(logger),
		manager.WithStaleAfter(staleAfter(cfg.Connection)),
	)
	defer m.Close()

	apply := func(cfg *config.Config) {
		if err := m.Apply(connection(cfg.Connection), cfg.Descriptors()); err != nil {
			logger.Warn().Err(err).Msg("some tags could not be started")
		}
		logger.Info().
			Int("tags", m.Len()).
			Bool("online", cfg.Connection.IsOnline()).
			Str("endpoint", fmt.Sprintf("%s:%d", cfg.Connection.Host, cfg.Connection.Port)).
			Msg("configuration applied")
	}
	apply(cfg)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return nil
		case <-hup:
			next, err := config.Load(path)
			if err != nil {
				logger.Error().Err(err).Msg("reload failed, keeping current configuration")
				continue
			}
			apply(next)
		}
	}
}

func connection(c config.ConnectionConfig) manager.Connection {
	return manager.Connection{
		Host:     c.Host,
		Port:     uint16(c.Port),
		Interval: c.Interval(),
		Timeout:  c.Timeout(),
		UnitID:   c.UnitID,
		Online:   c.IsOnline(),
	}
}

// staleAfter is two worst-case cycles: every read attempt timing out.
func staleAfter(c config.ConnectionConfig) time.Duration {
	cycle := c.Interval() + 2*poller.MaxAttempts*c.Timeout()
	return 2 * cycle
}

func statusBlockDialer(sb config.StatusBlockConfig, c config.ConnectionConfig) func() (sink.BlockClient, error) {
	d := tag.Descriptor{
		Host:    sb.Host,
		Port:    uint16(sb.Port),
		UnitID:  sb.UnitID,
		Timeout: c.Timeout(),
	}
	return func() (sink.BlockClient, error) {
		return pmodbus.New(pmodbus.Config{
			Endpoint: d.Endpoint(),
			UnitID:   d.UnitID,
			Timeout:  d.Timeout,
		})
	}
}
