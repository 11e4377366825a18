// Package orchestrator wires window changes, config reloads and device key
// events into the profile resolver, the lighting renderer and the macro
// engine, and funnels all resulting device traffic through the session's
// serialized write path.
package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/glimmerkb/glimmer-agent/internal/devicesvc"
	"github.com/glimmerkb/glimmer-agent/internal/lighting"
	"github.com/glimmerkb/glimmer-agent/internal/macro"
	"github.com/glimmerkb/glimmer-agent/internal/profiles"
	"github.com/glimmerkb/glimmer-agent/internal/protocol"
	"github.com/glimmerkb/glimmer-agent/internal/windowsvc"
	"github.com/glimmerkb/glimmer-agent/pkg/bus"
)

// Device hands out the current device session (nil while the keyboard is
// disconnected) and persists the active M-key mode across restarts.
type Device interface {
	Session() *devicesvc.Session
	LastMode() int
	SaveLastMode(mode int) error
}

// KeyInjector forwards media keys to the OS input layer.
type KeyInjector interface {
	PressKey(name string) error
	ReleaseKey(name string) error
}

type (
	WindowSource = bus.Subscriber[string, *windowsvc.WindowInfo]
	EventSource  = bus.Subscriber[devicesvc.KeyClass, devicesvc.Event]
)

var mediaKeysyms = map[devicesvc.MediaKey]string{
	devicesvc.MediaNext:       "XF86AudioNext",
	devicesvc.MediaPrevious:   "XF86AudioPrev",
	devicesvc.MediaPlayPause:  "XF86AudioPlay",
	devicesvc.MediaVolumeUp:   "XF86AudioRaiseVolume",
	devicesvc.MediaVolumeDown: "XF86AudioLowerVolume",
	devicesvc.MediaMute:       "XF86AudioMute",
}

// snapshot is the immutable state derived from one (config, window, mode)
// triple. A new event produces a new snapshot; the render belonging to the
// old one is cancelled, never interleaved.
type snapshot struct {
	resolution   profiles.Resolution
	renderCancel context.CancelFunc
}

type Option func(*Orchestrator)

// WithFullRedraw makes every theme render black out unassigned keys first.
func WithFullRedraw(on bool) Option {
	return func(o *Orchestrator) {
		o.fullRedraw = on
	}
}

type Orchestrator struct {
	log      *zap.Logger
	device   Device
	engine   *macro.Engine
	injector KeyInjector
	windows  WindowSource
	events   EventSource

	fullRedraw bool
	ready      chan struct{}

	reloads chan *profiles.Config

	mu        sync.Mutex
	cfg       *profiles.Config
	win       *windowsvc.WindowInfo
	mode      int
	recording bool
	current   snapshot
	renderWG  sync.WaitGroup
}

func New(log *zap.Logger, cfg *profiles.Config, device Device, engine *macro.Engine, injector KeyInjector, windows WindowSource, events EventSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		log:      log,
		device:   device,
		engine:   engine,
		injector: injector,
		windows:  windows,
		events:   events,
		ready:    make(chan struct{}),
		reloads:  make(chan *profiles.Config, 1),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Ready() <-chan struct{} {
	return o.ready
}

// ReloadConfig hands a validated configuration tree to the event loop. The
// whole tree is replaced atomically on the next loop iteration.
func (o *Orchestrator) ReloadConfig(cfg *profiles.Config) {
	select {
	case o.reloads <- cfg:
	default:
		// A pending reload is superseded.
		select {
		case <-o.reloads:
		default:
		}
		o.reloads <- cfg
	}
}

func (o *Orchestrator) Start(ctx context.Context) error {
	windows := o.windows(ctx)
	events := o.events(ctx)

	o.mu.Lock()
	o.mode = o.device.LastMode()
	o.mu.Unlock()
	o.apply(ctx)
	close(o.ready)
	o.log.Info("Orchestrator started")

	for {
		select {
		case <-ctx.Done():
			o.engine.StopAll()
			o.renderWG.Wait()
			return nil
		case cfg := <-o.reloads:
			o.mu.Lock()
			o.cfg = cfg
			o.mu.Unlock()
			o.log.Info("configuration reloaded")
			o.apply(ctx)
		case msg := <-windows:
			o.mu.Lock()
			o.win = msg.Message
			o.mu.Unlock()
			o.apply(ctx)
		case msg := <-events:
			o.handleEvent(ctx, msg.Message)
		}
	}
}

// apply derives a new snapshot, swaps the binding table and starts rendering
// the new theme. Running macros are stopped first so none outlives the table
// that spawned it.
func (o *Orchestrator) apply(ctx context.Context) {
	o.mu.Lock()
	cfg, win, mode := o.cfg, o.win, o.mode
	previous := o.current
	o.mu.Unlock()

	res := cfg.Resolve(win, mode)
	o.log.Debug("resolved profile",
		zap.String("profile", res.ProfileID),
		zap.Int("mode", res.Mode),
		zap.String("theme", res.ThemeName))

	o.engine.StopAll()
	o.engine.SetBindings(res.Bindings)

	if previous.renderCancel != nil {
		previous.renderCancel()
	}
	renderCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.current = snapshot{resolution: res, renderCancel: cancel}
	o.mu.Unlock()

	frames, err := o.renderFrames(cfg, res)
	if err != nil {
		o.log.Error("theme render failed", zap.Error(err))
		cancel()
		return
	}
	if len(frames) == 0 {
		cancel()
		return
	}
	o.renderWG.Add(1)
	go func() {
		defer o.renderWG.Done()
		defer cancel()
		o.sendBatch(renderCtx, frames)
	}()
}

func (o *Orchestrator) renderFrames(cfg *profiles.Config, res profiles.Resolution) ([]protocol.Frame, error) {
	renderer := lighting.NewRenderer(o.log.Named("renderer"), cfg.Keygroups,
		lighting.WithFullRedraw(o.fullRedraw))

	var frames []protocol.Frame
	if res.Theme != nil {
		themeFrames, err := renderer.Render(*res.Theme)
		if err != nil {
			return nil, err
		}
		frames = append(frames, themeFrames...)
	}
	frames = append(frames, renderer.GameModeFrames(res.GameModeKeys)...)
	return frames, nil
}

// recordingIndicatorFrames paints the G-keys red while macro recording is
// armed, the same hint the onboard firmware gives.
func recordingIndicatorFrames(log *zap.Logger, cfg *profiles.Config) []protocol.Frame {
	pairs := make([]lighting.KeyColor, 0, protocol.GKeyCount)
	for n := 1; n <= protocol.GKeyCount; n++ {
		key, ok := protocol.GKeyScancode(n)
		if !ok {
			continue
		}
		pairs = append(pairs, lighting.KeyColor{Key: key, Color: lighting.Color{R: 0xff}})
	}
	return lighting.NewRenderer(log.Named("renderer"), cfg.Keygroups).OverlayFrames(pairs)
}

func (o *Orchestrator) handleEvent(ctx context.Context, event devicesvc.Event) {
	switch event.Class {
	case devicesvc.ClassGKey:
		// Singular and repeat macros run to completion right here; the
		// looping kinds return immediately.
		if event.Down {
			o.engine.KeyDown(ctx, event.Number)
		} else {
			o.engine.KeyUp(event.Number)
		}

	case devicesvc.ClassModeKey:
		if !event.Down {
			return
		}
		o.mu.Lock()
		o.mode = event.Number
		o.mu.Unlock()
		if err := o.device.SaveLastMode(event.Number); err != nil {
			o.log.Warn("failed to persist mode", zap.Error(err))
		}
		o.send(ctx, lighting.ModeLedsFrame(event.Number))
		o.apply(ctx)

	case devicesvc.ClassMacroRecord:
		if !event.Down {
			return
		}
		o.mu.Lock()
		o.recording = !o.recording
		recording := o.recording
		cfg := o.cfg
		o.mu.Unlock()
		led := byte(0x00)
		if recording {
			led = 0x01
		}
		o.send(ctx, protocol.MustEncode(protocol.CmdMacroRecordMode, 0, []byte{led}))
		if recording {
			o.sendBatch(ctx, recordingIndicatorFrames(o.log, cfg))
		} else {
			// Restore the theme over the indicator keys.
			o.apply(ctx)
		}

	case devicesvc.ClassMediaKey:
		keysym, ok := mediaKeysyms[event.Media]
		if !ok {
			return
		}
		var err error
		if event.Down {
			err = o.injector.PressKey(keysym)
		} else {
			err = o.injector.ReleaseKey(keysym)
		}
		if err != nil {
			o.log.Warn("media key injection failed", zap.String("key", keysym), zap.Error(err))
		}

	case devicesvc.ClassBrightness:
		o.log.Info("brightness changed", zap.Uint8("percent", event.Brightness))

	case devicesvc.ClassConnection:
		// A fresh connection starts with the device's onboard lighting;
		// re-render the active snapshot onto it.
		if event.Down {
			o.apply(ctx)
		}
	}
}

func (o *Orchestrator) send(ctx context.Context, frame protocol.Frame) {
	session := o.device.Session()
	if session == nil {
		o.log.Debug("dropping frame, device disconnected")
		return
	}
	if err := session.Send(ctx, frame); err != nil {
		o.log.Warn("frame send failed", zap.Error(err))
	}
}

func (o *Orchestrator) sendBatch(ctx context.Context, frames []protocol.Frame) {
	session := o.device.Session()
	if session == nil {
		o.log.Debug("dropping render, device disconnected")
		return
	}
	if err := session.SendBatch(ctx, frames); err != nil {
		if ctx.Err() != nil {
			o.log.Debug("render superseded", zap.Int("frames", len(frames)))
			return
		}
		o.log.Warn("render send failed", zap.Error(err))
	}
}

// Mode returns the active M-key mode, 0 when none was selected yet.
func (o *Orchestrator) Mode() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}
