package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ghodss/yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/glimmerkb/glimmer-agent/internal/devicesvc"
	"github.com/glimmerkb/glimmer-agent/internal/macro"
	"github.com/glimmerkb/glimmer-agent/internal/profiles"
	"github.com/glimmerkb/glimmer-agent/internal/windowsvc"
	"github.com/glimmerkb/glimmer-agent/pkg/bus"
)

const testConfig = `
profiles:
  - id: coding
    conditions:
      class: code
    theme: coding
    gkeys:
      1: {simple_action: {key_press: b}}
  - id: default
    theme: idle
    gkeys:
      1: {simple_action: {key_press: a}}
    modes:
      2:
        theme: alt
themes:
  idle:
    - {color: ff0000, keys: a}
  coding:
    - {color: 00ff00, keys: b}
  alt:
    - {color: 0000ff, keys: c}
`

type testTransport struct {
	mu     sync.Mutex
	frames [][]byte
}

func (t *testTransport) Write(data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, buf)
	return nil
}

func (t *testTransport) Read(timeout time.Duration) ([]byte, error) {
	time.Sleep(timeout)
	return nil, nil
}

func (t *testTransport) Close() error { return nil }

func (t *testTransport) find(match func(frame []byte) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, frame := range t.frames {
		if match(frame) {
			return true
		}
	}
	return false
}

type sessionHolder struct {
	session *devicesvc.Session

	mu        sync.Mutex
	savedMode int
}

func (h *sessionHolder) Session() *devicesvc.Session { return h.session }

func (h *sessionHolder) LastMode() int { return 1 }

func (h *sessionHolder) SaveLastMode(mode int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.savedMode = mode
	return nil
}

// recorder doubles as the macro effector and the media key injector.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) PressKey(name string) error      { r.record("press:%s", name); return nil }
func (r *recorder) ReleaseKey(name string) error    { r.record("release:%s", name); return nil }
func (r *recorder) PressButton(name string) error   { r.record("mousedown:%s", name); return nil }
func (r *recorder) ReleaseButton(name string) error { r.record("mouseup:%s", name); return nil }
func (r *recorder) RunShell(command string) error   { r.record("shell:%s", command); return nil }
func (r *recorder) CallMethod(call macro.BusMethodCall) error {
	r.record("dbus:%s", call.Method)
	return nil
}

type fixture struct {
	orch    *Orchestrator
	tr      *testTransport
	rec     *recorder
	holder  *sessionHolder
	windows chan bus.Message[string, *windowsvc.WindowInfo]
	events  chan bus.Message[devicesvc.KeyClass, devicesvc.Event]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var cfg profiles.Config
	require.NoError(t, yaml.Unmarshal([]byte(testConfig), &cfg))
	require.NoError(t, cfg.Validate())

	f := &fixture{
		tr:      &testTransport{},
		rec:     &recorder{},
		windows: make(chan bus.Message[string, *windowsvc.WindowInfo]),
		events:  make(chan bus.Message[devicesvc.KeyClass, devicesvc.Event]),
	}
	f.holder = &sessionHolder{session: devicesvc.NewSession(zap.NewNop(), f.tr)}
	engine := macro.NewEngine(zap.NewNop(), f.rec)

	f.orch = New(zap.NewNop(), &cfg, f.holder, engine, f.rec,
		func(ctx context.Context) <-chan bus.Message[string, *windowsvc.WindowInfo] {
			return f.windows
		},
		func(ctx context.Context) <-chan bus.Message[devicesvc.KeyClass, devicesvc.Event] {
			return f.events
		})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = f.orch.Start(ctx) }()
	select {
	case <-f.orch.Ready():
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not become ready")
	}
	return f
}

func (f *fixture) window(info *windowsvc.WindowInfo) {
	f.windows <- bus.Message[string, *windowsvc.WindowInfo]{Key: "active", Message: info}
}

func (f *fixture) event(event devicesvc.Event) {
	f.events <- bus.Message[devicesvc.KeyClass, devicesvc.Event]{Key: event.Class, Message: event}
}

// set4With matches a 4-key bulk frame whose first slot paints the given
// lighting id with the given color.
func set4With(id, r, g, b byte) func([]byte) bool {
	return func(frame []byte) bool {
		return frame[2] == 0x10 && frame[3]&0xf0 == 0x10 &&
			frame[4] == id && frame[5] == r && frame[6] == g && frame[7] == b
	}
}

func TestStartupRendersDefaultTheme(t *testing.T) {
	f := newFixture(t)

	// Key a is lighting id 0x01, painted red by the idle theme.
	require.Eventually(t, func() bool {
		return f.tr.find(set4With(0x01, 0xff, 0x00, 0x00))
	}, time.Second, time.Millisecond)
	assert.True(t, f.tr.find(func(frame []byte) bool {
		return frame[2] == 0x10 && frame[3]&0xf0 == 0x70 // commit
	}))
}

func TestWindowChangeSwapsThemeAndBindings(t *testing.T) {
	f := newFixture(t)

	f.window(&windowsvc.WindowInfo{Class: "code"})
	require.Eventually(t, func() bool {
		return f.tr.find(set4With(0x02, 0x00, 0xff, 0x00))
	}, time.Second, time.Millisecond, "coding theme paints b green")

	f.event(devicesvc.Event{Class: devicesvc.ClassGKey, Down: true, Number: 1})
	f.event(devicesvc.Event{Class: devicesvc.ClassGKey, Down: false, Number: 1})
	require.Eventually(t, func() bool {
		events := f.rec.snapshot()
		return len(events) >= 2 && events[0] == "press:b" && events[1] == "release:b"
	}, time.Second, time.Millisecond)
}

func TestModeKeyUpdatesLedsAndOverlayTheme(t *testing.T) {
	f := newFixture(t)

	f.event(devicesvc.Event{Class: devicesvc.ClassModeKey, Down: true, Number: 2})

	require.Eventually(t, func() bool {
		return f.tr.find(func(frame []byte) bool {
			return frame[2] == 0x0b && frame[4] == 0x02 // M2 LED bitmask
		})
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return f.tr.find(set4With(0x03, 0x00, 0x00, 0xff))
	}, time.Second, time.Millisecond, "mode 2 theme paints c blue")
	assert.Equal(t, 2, f.orch.Mode())

	f.holder.mu.Lock()
	defer f.holder.mu.Unlock()
	assert.Equal(t, 2, f.holder.savedMode)
}

func TestMacroRecordKeyTogglesLed(t *testing.T) {
	f := newFixture(t)

	f.event(devicesvc.Event{Class: devicesvc.ClassMacroRecord, Down: true, Number: 1})
	require.Eventually(t, func() bool {
		return f.tr.find(func(frame []byte) bool {
			return frame[2] == 0x0c && frame[4] == 0x01
		})
	}, time.Second, time.Millisecond)
	// G1 (lighting id 0xb4) lights up red while recording is armed.
	require.Eventually(t, func() bool {
		return f.tr.find(set4With(0xb4, 0xff, 0x00, 0x00))
	}, time.Second, time.Millisecond)

	f.event(devicesvc.Event{Class: devicesvc.ClassMacroRecord, Down: false, Number: 1})
	f.event(devicesvc.Event{Class: devicesvc.ClassMacroRecord, Down: true, Number: 1})
	require.Eventually(t, func() bool {
		return f.tr.find(func(frame []byte) bool {
			return frame[2] == 0x0c && frame[4] == 0x00
		})
	}, time.Second, time.Millisecond)
}

func TestMediaKeysForwardedAsInput(t *testing.T) {
	f := newFixture(t)

	f.event(devicesvc.Event{Class: devicesvc.ClassMediaKey, Down: true, Media: devicesvc.MediaPlayPause})
	f.event(devicesvc.Event{Class: devicesvc.ClassMediaKey, Down: false, Media: devicesvc.MediaPlayPause})

	require.Eventually(t, func() bool {
		events := f.rec.snapshot()
		return len(events) >= 2 &&
			events[0] == "press:XF86AudioPlay" && events[1] == "release:XF86AudioPlay"
	}, time.Second, time.Millisecond)
}

func TestConfigReloadReplacesBindings(t *testing.T) {
	f := newFixture(t)

	var cfg profiles.Config
	require.NoError(t, yaml.Unmarshal([]byte(`
profiles:
  - id: default
    theme: idle
    gkeys:
      1: {simple_action: {key_press: z}}
themes:
  idle:
    - {color: ff00ff, keys: a}
`), &cfg))
	require.NoError(t, cfg.Validate())
	f.orch.ReloadConfig(&cfg)

	require.Eventually(t, func() bool {
		return f.tr.find(set4With(0x01, 0xff, 0x00, 0xff))
	}, time.Second, time.Millisecond, "reloaded theme is rendered")

	f.event(devicesvc.Event{Class: devicesvc.ClassGKey, Down: true, Number: 1})
	require.Eventually(t, func() bool {
		events := f.rec.snapshot()
		return len(events) >= 2 && events[len(events)-2] == "press:z" &&
			events[len(events)-1] == "release:z"
	}, time.Second, time.Millisecond)
}
