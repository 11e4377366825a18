// Package agent assembles the services that make up the keyboard agent and
// supervises their lifecycle.
package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/glimmerkb/glimmer-agent/internal/configsvc"
	"github.com/glimmerkb/glimmer-agent/internal/devicesvc"
	"github.com/glimmerkb/glimmer-agent/internal/devicesvc/hidraw"
	"github.com/glimmerkb/glimmer-agent/internal/effectors"
	"github.com/glimmerkb/glimmer-agent/internal/macro"
	"github.com/glimmerkb/glimmer-agent/internal/orchestrator"
	"github.com/glimmerkb/glimmer-agent/internal/profiles"
	"github.com/glimmerkb/glimmer-agent/internal/windowsvc"
	"github.com/glimmerkb/glimmer-agent/internal/windowsvc/x11"
	"github.com/glimmerkb/glimmer-agent/pkg/bus"
)

type Agent struct {
	config Config
	log    *zap.Logger

	db        *badger.DB
	backend   *hidraw.Backend
	configSvc *configsvc.Service
	deviceSvc *devicesvc.Service
	windowSvc *windowsvc.Service
	effectors *effectors.Set
	engine    *macro.Engine
}

// nullQuery stands in for the window system when no X connection is
// available; every profile resolution falls back to default.
type nullQuery struct{}

func (nullQuery) ActiveWindow() (*windowsvc.WindowInfo, error) { return nil, nil }

func NewAgent(config Config) (*Agent, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	dbOptions := badger.DefaultOptions(filepath.Join(config.DataDir, "db"))
	dbOptions.Logger = &badgerLogger{l: logger.Named("badger")}
	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	backend, err := hidraw.NewBackend()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize hid backend: %w", err)
	}

	effectorSet, err := effectors.New(logger.Named("effectors"))
	if err != nil {
		return nil, fmt.Errorf("failed to create input effectors: %w", err)
	}

	var query windowsvc.Query = nullQuery{}
	if x11Client, err := x11.New(); err != nil {
		logger.Warn("X connection unavailable, profile conditions are disabled", zap.Error(err))
	} else {
		query = x11Client
	}

	configSvc := configsvc.New(logger.Named("config"))
	deviceSvc := devicesvc.New(db, logger.Named("device"), backend, time.Now)
	windowSvc := windowsvc.New(logger.Named("window"), query,
		time.Duration(config.WindowPollMs)*time.Millisecond)
	engine := macro.NewEngine(logger.Named("macro"), effectorSet)

	return &Agent{
		config:    config,
		log:       logger,
		db:        db,
		backend:   backend,
		configSvc: configSvc,
		deviceSvc: deviceSvc,
		windowSvc: windowSvc,
		effectors: effectorSet,
		engine:    engine,
	}, nil
}

func (a *Agent) Close() error {
	a.effectors.Close()
	a.backend.Close()
	return a.db.Close()
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Info(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}

// Run starts the agent and blocks until the context is cancelled.
// Startup fails if the configuration is not valid. If the configuration
// becomes invalid after startup, the agent keeps running with the last valid
// one.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return a.deviceSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return a.windowSvc.Start(groupCtx)
	})
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
			return nil
		case <-a.configSvc.Ready():
		}
		return a.runOrchestrator(groupCtx)
	})

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("agent failed: %w", err)
	}
	return nil
}

func (a *Agent) runOrchestrator(ctx context.Context) error {
	var orchPtr atomic.Pointer[orchestrator.Orchestrator]
	cfg, err := configsvc.Register(a.configSvc, a.config.ProfilesConfig, profiles.Config{},
		func(cfg profiles.Config, err error) {
			if err != nil {
				a.log.Error("config reload rejected, keeping previous configuration", zap.Error(err))
				return
			}
			if orch := orchPtr.Load(); orch != nil {
				orch.ReloadConfig(&cfg)
			}
		})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	orch := orchestrator.New(
		a.log.Named("orchestrator"),
		&cfg,
		a.deviceSvc,
		a.engine,
		a.effectors,
		a.windowSvc.Subscribe,
		func(ctx context.Context) <-chan bus.Message[devicesvc.KeyClass, devicesvc.Event] {
			return a.deviceSvc.Subscribe(ctx)
		},
		orchestrator.WithFullRedraw(a.config.FullRedraw),
	)
	orchPtr.Store(orch)
	return orch.Start(ctx)
}

// Devices exposes the device service for CLI commands.
func (a *Agent) Devices() *devicesvc.Service {
	return a.deviceSvc
}
