// Package app assembles the scheduling pipeline from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"agentsched.org/internal/agent"
	"agentsched.org/internal/audit"
	"agentsched.org/internal/auth"
	"agentsched.org/internal/config"
	"agentsched.org/internal/extract"
	"agentsched.org/internal/obs"
	"agentsched.org/internal/orchestrator"
	"agentsched.org/internal/sink"
	"agentsched.org/internal/store/pg"
	"agentsched.org/internal/stream"
)

// App holds the wired pipeline and the resources it owns.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Audit        *audit.Log
	Stream       *stream.Stream
	Tokens       *auth.Service
	Keys         *auth.RotatingKeys
	// Store is nil unless a postgres driver is configured.
	Store *pg.Store

	closers []io.Closer
}

// New builds every component named by cfg. Callers must Close the App.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Stream: stream.New()}
	if err := a.build(ctx, cfg); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	policy, err := cfg.CompilePolicy()
	if err != nil {
		return err
	}
	keys, ephemeral, err := cfg.Keys()
	if err != nil {
		return err
	}
	if ephemeral {
		obs.Log(obs.LevelWarn, "signing_key_generated", map[string]any{
			"epoch": cfg.Auth.KeyEpoch,
			"hint":  "set SCHED_AUTH_SECRET to keep tokens verifiable across restarts",
		})
	}
	a.Keys = keys
	a.Tokens, err = auth.NewService(policy, keys, auth.WithDefaultTTL(cfg.Auth.TokenTTL))
	if err != nil {
		return err
	}

	if cfg.Postgres.DSN != "" && (cfg.Audit.Driver == config.DriverPostgres || cfg.Calendar.Driver == config.DriverPostgres) {
		a.Store, err = pg.Open(cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, a.Store)
	}

	var store audit.Store = audit.NewMemoryStore()
	if cfg.Audit.Driver == config.DriverPostgres {
		store = a.Store.Audit()
	}
	a.Audit, err = audit.New(ctx, store, audit.WithPublisher(a.Stream))
	if err != nil {
		return err
	}

	calendar, err := a.calendar(cfg)
	if err != nil {
		return err
	}
	notifier, err := a.notifier(ctx, cfg)
	if err != nil {
		return err
	}
	channel, err := sink.ParseChannel(cfg.Notify.Channel)
	if err != nil {
		return err
	}
	tod, err := cfg.TimeOfDay()
	if err != nil {
		return err
	}

	ex := extract.New(
		extract.WithDefaultDuration(cfg.Extract.DefaultDuration),
		extract.WithDefaultTimeOfDay(tod),
	)
	plannerOpts := []agent.PlannerOption{agent.WithPlannerTokenTTL(cfg.Auth.TokenTTL)}
	if checker, ok := calendar.(sink.ConflictChecker); ok && cfg.Calendar.ConflictCheck {
		plannerOpts = append(plannerOpts, agent.WithConflictCheck(checker))
	}
	planner := agent.NewPlanner(ex, a.Tokens, calendar, plannerOpts...)
	notify := agent.NewNotifier(a.Tokens, notifier,
		agent.WithTimeout(cfg.Notify.Timeout),
		agent.WithChannel(channel))

	orchOpts := []orchestrator.Option{orchestrator.WithTokenTTL(cfg.Auth.TokenTTL)}
	if recorder, ok := calendar.(sink.StatusRecorder); ok {
		orchOpts = append(orchOpts, orchestrator.WithStatusRecorder(recorder))
	}
	a.Orchestrator = orchestrator.New(planner, notify, a.Tokens, a.Audit, orchOpts...)
	return nil
}

func (a *App) calendar(cfg *config.Config) (sink.Calendar, error) {
	switch cfg.Calendar.Driver {
	case config.DriverMemory:
		return sink.NewMemoryCalendar(), nil
	case config.DriverICS:
		return sink.NewICSCalendar(cfg.Calendar.Dir)
	case config.DriverPostgres:
		return a.Store.Calendar(), nil
	}
	return nil, fmt.Errorf("unknown calendar driver %q", cfg.Calendar.Driver)
}

func (a *App) notifier(ctx context.Context, cfg *config.Config) (sink.Notifier, error) {
	switch cfg.Notify.Driver {
	case config.DriverLog:
		return sink.LogNotifier{}, nil
	case config.DriverAMQP:
		n, err := sink.NewAMQPNotifier(cfg.AMQPSink())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, n)
		return n, nil
	case config.DriverRedis:
		n, err := sink.NewRedisNotifier(ctx, cfg.RedisSink())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, n)
		return n, nil
	}
	return nil, fmt.Errorf("unknown notify driver %q", cfg.Notify.Driver)
}

// Ping checks the database when one is configured.
func (a *App) Ping(ctx context.Context) error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Ping(ctx)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
