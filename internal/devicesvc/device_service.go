package devicesvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger"
	"go.uber.org/zap"

	"github.com/glimmerkb/glimmer-agent/internal/lighting"
	"github.com/glimmerkb/glimmer-agent/internal/protocol"
	"github.com/glimmerkb/glimmer-agent/pkg/bus"
)

// KeyClass identifies which physical key bank an event came from.
type KeyClass uint8

const (
	ClassGKey KeyClass = iota
	ClassModeKey
	ClassMacroRecord
	ClassMediaKey
	ClassBrightness
	// ClassConnection events fire when a keyboard finishes its handshake
	// (Down true) or disconnects (Down false).
	ClassConnection
)

func (c KeyClass) String() string {
	switch c {
	case ClassGKey:
		return "gkey"
	case ClassModeKey:
		return "mode"
	case ClassMacroRecord:
		return "macro-record"
	case ClassMediaKey:
		return "media"
	case ClassBrightness:
		return "brightness"
	case ClassConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// MediaKey names the keys reported through the short media bitmask report.
type MediaKey uint8

const (
	MediaNext MediaKey = iota
	MediaPrevious
	MediaPlayPause
	MediaVolumeUp
	MediaVolumeDown
	MediaMute
)

// mediaKeyBits maps bit positions of the media bitmask to keys.
var mediaKeyBits = map[int]MediaKey{
	0: MediaNext,
	1: MediaPrevious,
	3: MediaPlayPause,
	4: MediaVolumeUp,
	5: MediaVolumeDown,
	6: MediaMute,
}

// Event is a decoded device key event. Number is the 1-based key number for
// G-keys and mode keys, Media is set for media key events and Brightness for
// brightness reports.
type Event struct {
	Class      KeyClass
	Down       bool
	Number     int
	Media      MediaKey
	Brightness byte
}

type (
	EventBus        = bus.Bus[KeyClass, Event]
	EventSubscriber = bus.Subscriber[KeyClass, Event]
)

// DeviceInfo describes an enumerated keyboard.
type DeviceInfo struct {
	ID     string
	Name   string
	Serial string
}

// Backend enumerates and opens keyboards on one transport mechanism.
type Backend interface {
	ListDevices() ([]DeviceInfo, error)
	OpenDevice(id string) (Transport, error)
}

// KnownDevice is the persisted record of a keyboard this host has seen.
type KnownDevice struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Serial      string    `json:"serial"`
	Firmware    string    `json:"firmware"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

var defaultOptions = serviceOptions{
	backoffTimeout: 5 * time.Second,
}

type serviceOptions struct {
	backoffTimeout time.Duration
}

type Option func(*serviceOptions)

func WithBackoffTimeout(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.backoffTimeout = d
	}
}

// Service owns the device lifecycle: enumeration, session setup, the control
// handoff and the interrupt-to-event pump. It reconnects with a backoff when
// the keyboard disappears.
type Service struct {
	log     *zap.Logger
	db      *badger.DB
	backend Backend
	options serviceOptions
	now     func() time.Time

	ready     chan struct{}
	readyOnce sync.Once
	events    *EventBus

	mu       sync.Mutex
	session  *Session
	bitmasks map[KeyClass]byte
}

func New(db *badger.DB, log *zap.Logger, backend Backend, now func() time.Time, opts ...Option) *Service {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		log:      log,
		db:       db,
		backend:  backend,
		options:  options,
		now:      now,
		ready:    make(chan struct{}),
		events:   bus.NewBus[KeyClass, Event](log),
		bitmasks: make(map[KeyClass]byte),
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Subscribe returns a channel of events for the given key classes, or all
// events when none is given.
func (s *Service) Subscribe(ctx context.Context, classes ...KeyClass) <-chan bus.Message[KeyClass, Event] {
	return s.events.Subscribe(ctx, classes...)
}

// Session returns the current device session, or nil while disconnected.
func (s *Service) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Service) Start(ctx context.Context) error {
	if err := s.events.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	select {
	case <-ctx.Done():
		return nil
	case <-s.events.Ready():
	}
	s.log.Info("Device service started")

	for {
		err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.log.Error("device connection ended", zap.Error(err))
		}
		t := time.NewTimer(s.options.backoffTimeout)
		// retry after backoff
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return nil
		case <-t.C:
		}
	}
}

var errNoDevice = errors.New("no supported keyboard found")

func (s *Service) runConnection(ctx context.Context) error {
	devices, err := s.backend.ListDevices()
	if err != nil {
		return fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return errNoDevice
	}
	info := devices[0]

	tr, err := s.backend.OpenDevice(info.ID)
	if err != nil {
		return fmt.Errorf("opening device %s: %w", info.ID, err)
	}
	defer tr.Close()

	session := NewSession(s.log.Named("session"), tr)
	s.mu.Lock()
	s.session = session
	s.bitmasks = make(map[KeyClass]byte)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.session = nil
		s.mu.Unlock()
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	go func() {
		readErr <- session.Start(connCtx)
	}()

	if err := session.Handshake(connCtx); err != nil {
		return err
	}

	firmware, err := session.FirmwareVersion(connCtx, 0x01)
	if err != nil {
		s.log.Warn("firmware version query failed", zap.Error(err))
	} else {
		s.log.Info("connected", zap.String("name", info.Name), zap.String("firmware", firmware))
	}
	if err := s.recordDevice(info, firmware); err != nil {
		s.log.Warn("failed to persist device record", zap.Error(err))
	}

	if err := s.TakeControl(connCtx); err != nil {
		return fmt.Errorf("taking control: %w", err)
	}
	defer func() {
		// Best effort with a fresh context; the run context is already gone
		// on shutdown.
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), time.Second)
		defer releaseCancel()
		if err := s.ReleaseControl(releaseCtx); err != nil {
			s.log.Warn("failed to release control", zap.Error(err))
		}
	}()

	s.readyOnce.Do(func() { close(s.ready) })
	s.events.Publish(ctx, ClassConnection, Event{Class: ClassConnection, Down: true})
	defer s.events.Publish(ctx, ClassConnection, Event{Class: ClassConnection, Down: false})

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case report := <-session.Reports():
			s.handleReport(ctx, report)
		}
	}
}

// TakeControl switches the keyboard into software mode: G-keys report to the
// host instead of acting as F-keys, onboard effects stop, and lighting is
// under host control. The key map is blacked out so the first theme render
// starts from a known state.
func (s *Service) TakeControl(ctx context.Context) error {
	session := s.Session()
	if session == nil {
		return errNoDevice
	}
	renderer := lighting.NewRenderer(s.log.Named("renderer"), nil)
	frames := []protocol.Frame{
		protocol.MustEncode(protocol.CmdControlMode, 0, []byte{protocol.ControlModeSoftware}),
		protocol.MustEncode(protocol.CmdGKeysMode, 0, []byte{protocol.GKeysModeSoftware}),
		protocol.MustEncode(protocol.CmdMacroRecordMode, 0, []byte{0x00}),
		lighting.ModeLedsFrame(s.LastMode()),
		protocol.MustEncode(protocol.CmdMarkerStart, 0, nil),
		protocol.MustEncode(protocol.CmdLightingEnabled, 0, []byte{0x01}),
	}
	frames = append(frames, renderer.StopEffectFrames()...)
	frames = append(frames, renderer.BlackoutFrames()...)
	if err := session.SendBatch(ctx, frames); err != nil {
		return err
	}
	return nil
}

// ReleaseControl hands the keyboard back to onboard mode.
func (s *Service) ReleaseControl(ctx context.Context) error {
	session := s.Session()
	if session == nil {
		return errNoDevice
	}
	return session.SendBatch(ctx, []protocol.Frame{
		protocol.MustEncode(protocol.CmdMacroRecordMode, 0, []byte{0x00}),
		protocol.MustEncode(protocol.CmdGKeysMode, 0, []byte{protocol.GKeysModeDefault}),
		protocol.MustEncode(protocol.CmdControlMode, 0, []byte{protocol.ControlModeHardware}),
	})
}

func (s *Service) handleReport(ctx context.Context, report protocol.Report) {
	switch report.Kind {
	case protocol.ReportGKeys:
		s.publishBitmaskEvents(ctx, ClassGKey, report.Bitmask, protocol.GKeyCount)
	case protocol.ReportModeKeys:
		s.publishBitmaskEvents(ctx, ClassModeKey, report.Bitmask, 3)
	case protocol.ReportMacroRecord:
		s.publishBitmaskEvents(ctx, ClassMacroRecord, report.Bitmask, 1)
	case protocol.ReportMediaKeys:
		s.publishMediaEvents(ctx, report.Bitmask)
	case protocol.ReportBrightness:
		s.events.Publish(ctx, ClassBrightness, Event{
			Class:      ClassBrightness,
			Brightness: report.Brightness,
		})
	default:
		s.log.Debug("unclassified interrupt", zap.Binary("data", report.Raw))
	}
}

// publishBitmaskEvents diffs the report bitmask against the previous one and
// emits a key event per changed bit.
func (s *Service) publishBitmaskEvents(ctx context.Context, class KeyClass, current byte, keyCount int) {
	s.mu.Lock()
	previous := s.bitmasks[class]
	s.bitmasks[class] = current
	s.mu.Unlock()

	changed := previous ^ current
	for bit := 0; bit < keyCount; bit++ {
		if changed>>bit&0x1 != 0x1 {
			continue
		}
		s.events.Publish(ctx, class, Event{
			Class:  class,
			Down:   current>>bit&0x1 == 0x1,
			Number: bit + 1,
		})
	}
}

func (s *Service) publishMediaEvents(ctx context.Context, current byte) {
	s.mu.Lock()
	previous := s.bitmasks[ClassMediaKey]
	s.bitmasks[ClassMediaKey] = current
	s.mu.Unlock()

	changed := previous ^ current
	for bit, key := range mediaKeyBits {
		if changed>>bit&0x1 != 0x1 {
			continue
		}
		s.events.Publish(ctx, ClassMediaKey, Event{
			Class: ClassMediaKey,
			Down:  current>>bit&0x1 == 0x1,
			Media: key,
		})
	}
}

func deviceKey(id string) []byte {
	return []byte(fmt.Sprintf("devices/%s", id))
}

var lastModeKey = []byte("state/last-mode")

// LastMode returns the persisted M-key mode, falling back to mode 1.
func (s *Service) LastMode() int {
	mode := 1
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lastModeKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 1 && val[0] >= 1 && val[0] <= 3 {
				mode = int(val[0])
			}
			return nil
		})
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		s.log.Warn("failed to read last mode", zap.Error(err))
	}
	return mode
}

// SaveLastMode persists the active M-key mode so it survives restarts.
func (s *Service) SaveLastMode(mode int) error {
	if mode < 1 || mode > 3 {
		return fmt.Errorf("mode number %d out of range", mode)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(lastModeKey, []byte{byte(mode)})
	})
}

// recordDevice upserts the persistent record for this keyboard, keeping its
// first-seen timestamp across reconnects.
func (s *Service) recordDevice(info DeviceInfo, firmware string) error {
	now := s.now()
	return s.db.Update(func(txn *badger.Txn) error {
		key := deviceKey(info.ID)
		var dev KnownDevice
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			dev = KnownDevice{FirstSeenAt: now}
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &dev)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal device record: %w", err)
			}
		}
		dev.ID = info.ID
		dev.Name = info.Name
		dev.Serial = info.Serial
		if firmware != "" {
			dev.Firmware = firmware
		}
		if dev.FirstSeenAt.IsZero() {
			dev.FirstSeenAt = now
		}
		dev.LastSeenAt = now
		b, err := json.Marshal(dev)
		if err != nil {
			return fmt.Errorf("failed to marshal device record: %w", err)
		}
		return txn.Set(key, b)
	})
}

// ListKnownDevices returns every keyboard this host has ever connected to.
func (s *Service) ListKnownDevices() ([]KnownDevice, error) {
	var devices []KnownDevice
	err := s.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		prefix := []byte("devices/")
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var dev KnownDevice
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &dev)
			})
			if err != nil {
				return err
			}
			devices = append(devices, dev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}
