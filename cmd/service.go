package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"rotations/internal/config"
	"rotations/internal/eventloop"
	"rotations/internal/logger"
	"rotations/internal/metrics"
	"rotations/internal/rotator"
	"rotations/internal/screen"
	"rotations/internal/xconn"
)

const settleInterval = 20 * time.Millisecond

// running is a connected service whose loop runs on its own goroutine.
type running struct {
	svc    *rotator.Service
	errc   chan error
	cancel context.CancelFunc
	server *metrics.Server
}

func connect(obs screen.Observer) (*rotator.Service, *metrics.Server, error) {
	cfg := config.Get()

	client, err := xconn.Dial(cfg.Display.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to display: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	var server *metrics.Server
	if cfg.Metrics.Listen != "" {
		server = metrics.NewServer(cfg.Metrics.Listen, reg)
		server.Start()
	}

	svc := rotator.New(client, rotator.Options{
		Observer:      obs,
		Timeout:       cfg.Requests.Timeout,
		SweepInterval: cfg.Requests.SweepInterval,
		Logger:        logger.Component("rotator"),
		Metrics:       m,
	})
	return svc, server, nil
}

func start(obs screen.Observer) (*running, error) {
	svc, server, err := connect(obs)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{svc: svc, errc: make(chan error, 1), cancel: cancel, server: server}
	go func() { r.errc <- svc.Run(ctx) }()
	return r, nil
}

// settled waits until no reply is outstanding, then returns the screens as
// they are at that moment. A screen whose info could not be fetched is
// returned uninitialized rather than holding up the rest.
func (r *running) settled(timeout time.Duration) ([]screen.State, error) {
	states := make(chan []screen.State, 1)
	r.svc.Loop.Add("settle", eventloop.NewTickerUntil(settleInterval, func(time.Time) bool {
		list, ok := settledScreens(r.svc.Session.Closed(), len(r.svc.Session.Pending()), r.svc.Registry.List())
		if ok {
			states <- list
		}
		return !ok
	}))

	select {
	case list := <-states:
		return list, nil
	case err := <-r.errc:
		r.errc <- err
		if err == nil {
			err = xconn.ErrConnectionLost
		}
		return nil, err
	case <-time.After(timeout):
		return nil, errors.New("timed out waiting for screens")
	}
}

// settledScreens reports whether enumeration has run and every request it
// made has been answered or has expired.
func settledScreens(closed bool, pending int, list []screen.State) ([]screen.State, bool) {
	if closed || pending > 0 || len(list) == 0 {
		return nil, false
	}
	return list, true
}

func (r *running) Close() {
	r.cancel()
	r.svc.Close()
	if r.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := r.server.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", "err", err)
		}
	}
}

// waitTimeout is how long headless commands wait for the server.
func waitTimeout() time.Duration {
	if t := config.Get().Requests.Timeout; t > 0 {
		return t
	}
	return config.DefaultConfig.Requests.Timeout
}
