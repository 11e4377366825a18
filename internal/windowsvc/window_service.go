// Package windowsvc tracks the foreground window. It polls a window-system
// query for snapshots and publishes a bus message whenever the active window
// changes, which drives profile re-resolution.
package windowsvc

import (
	"context"
	"time"

	"github.com/glimmerkb/glimmer-agent/pkg/bus"
	"go.uber.org/zap"
)

// WindowInfo is a snapshot of the foreground window's metadata. Fields the
// window system could not determine are left empty.
type WindowInfo struct {
	Title      string
	Executable string
	Class      string
	ClassName  string
}

// Query asks the window system for the current foreground window. A nil
// result with a nil error means no window is focused.
type Query interface {
	ActiveWindow() (*WindowInfo, error)
}

const topicActive = "active"

type WindowBus = bus.Bus[string, *WindowInfo]

type Service struct {
	log      *zap.Logger
	query    Query
	interval time.Duration
	bus      *WindowBus
	ready    chan struct{}
}

func New(log *zap.Logger, query Query, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Service{
		log:      log,
		query:    query,
		interval: interval,
		bus:      bus.NewBus[string, *WindowInfo](log),
		ready:    make(chan struct{}),
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Subscribe returns a channel receiving a snapshot whenever the foreground
// window changes. The first change after startup is always delivered.
func (s *Service) Subscribe(ctx context.Context) <-chan bus.Message[string, *WindowInfo] {
	return s.bus.Subscribe(ctx, topicActive)
}

func (s *Service) Start(ctx context.Context) error {
	if err := s.bus.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return nil
	case <-s.bus.Ready():
	}
	close(s.ready)
	s.log.Info("Window service started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last *WindowInfo
	first := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := s.query.ActiveWindow()
			if err != nil {
				// Window queries racing a closing window are routine;
				// treat as "no window focused".
				s.log.Debug("window query failed", zap.Error(err))
				info = nil
			}
			if !first && sameWindow(last, info) {
				continue
			}
			first = false
			last = info
			if info != nil {
				s.log.Debug("active window changed",
					zap.String("title", info.Title),
					zap.String("class", info.Class),
					zap.String("executable", info.Executable))
			} else {
				s.log.Debug("no active window")
			}
			s.bus.Publish(ctx, topicActive, info)
		}
	}
}

func sameWindow(a, b *WindowInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
