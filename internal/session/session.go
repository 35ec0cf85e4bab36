// Package session wires a Cast connection, the receiver services and the
// Plex controller into one remote-control session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go2tv.app/plexcast/internal/adapters"
	"go2tv.app/plexcast/internal/castchannel"
	"go2tv.app/plexcast/internal/metrics"
	"go2tv.app/plexcast/internal/plex"
)

type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	LaunchTimeout            time.Duration
	StatusTimeout            time.Duration
	ThreadRequestID          bool
	RejectDuplicateListeners bool
}

type Session struct {
	Channel    *castchannel.Channel
	Receiver   *castchannel.Receiver
	Controller *plex.Controller

	logger *slog.Logger
}

// Open connects to the receiver at host:port and returns a session whose
// controller is ready to use once Run is started.
func Open(ctx context.Context, factory adapters.ConnFactory, host string, port int, cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	ch := castchannel.New(factory.NewConn(), castchannel.Config{
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err := ch.Connect(ctx, host, port); err != nil {
		return nil, err
	}

	receiver := castchannel.NewReceiver(ch, cfg.Logger)
	ctrl := plex.New(ch, receiver, receiver, plex.Config{
		Logger:                   cfg.Logger,
		Metrics:                  cfg.Metrics,
		TearDown:                 func() { ch.Unhandle(plex.NamespaceMedia) },
		LaunchTimeout:            cfg.LaunchTimeout,
		StatusTimeout:            cfg.StatusTimeout,
		ThreadRequestID:          cfg.ThreadRequestID,
		RejectDuplicateListeners: cfg.RejectDuplicateListeners,
	})
	ch.Handle(plex.NamespaceMedia, ctrl.ReceiveMessage)

	if err := receiver.Refresh(ctx); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("request receiver status: %w", err)
	}

	return &Session{
		Channel:    ch,
		Receiver:   receiver,
		Controller: ctrl,
		logger:     cfg.Logger,
	}, nil
}

// Run pumps inbound messages until ctx ends or the connection drops.
func (s *Session) Run(ctx context.Context) error {
	return s.Channel.Run(ctx)
}

func (s *Session) Close() error {
	s.Controller.TearDown()
	if err := s.Channel.Close(); err != nil {
		return fmt.Errorf("close cast channel: %w", err)
	}
	s.logger.Info("session_closed")
	return nil
}
