// Package devicesvc owns the keyboard connection: the session handshake, the
// serialized write path every other component sends frames through, and the
// interrupt read loop that turns raw reports into key events.
package devicesvc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/glimmerkb/glimmer-agent/internal/protocol"
)

const (
	handshakeTimeout = 3 * time.Second
	ackTimeout       = time.Second
	readTimeout      = 50 * time.Millisecond
)

// Transport is the raw HID channel to the keyboard's vendor interface. Read
// returns an empty slice when the timeout elapses without a report.
type Transport interface {
	Write(data []byte) error
	Read(timeout time.Duration) ([]byte, error)
	Close() error
}

// Session owns one device connection. All outbound frames are stamped with
// the session nibble captured during the handshake and serialized through a
// single writer, so multi-frame sequences are never interleaved.
type Session struct {
	log *zap.Logger
	tr  Transport

	writeMu sync.Mutex

	mu          sync.Mutex
	session     byte
	established bool
	waiter      *waiter

	handshakeWait time.Duration
	ackWait       time.Duration

	reports chan protocol.Report
}

type waiter struct {
	match func(protocol.Report) bool
	ch    chan protocol.Report
}

func NewSession(log *zap.Logger, tr Transport) *Session {
	return &Session{
		log:           log,
		tr:            tr,
		handshakeWait: handshakeTimeout,
		ackWait:       ackTimeout,
		reports:       make(chan protocol.Report),
	}
}

// Start runs the interrupt read loop until ctx is cancelled. Reports claimed
// by an in-flight round trip are routed to its waiter; everything else is
// delivered on Reports.
func (s *Session) Start(ctx context.Context) error {
	for ctx.Err() == nil {
		data, err := s.tr.Read(readTimeout)
		if err != nil {
			return fmt.Errorf("reading device interrupt: %w", err)
		}
		if len(data) == 0 {
			continue
		}
		report, err := protocol.DecodeReport(data)
		if err != nil {
			s.log.Debug("undecodable interrupt", zap.Binary("data", data))
			continue
		}

		s.mu.Lock()
		if w := s.waiter; w != nil && w.match(report) {
			s.waiter = nil
			s.mu.Unlock()
			w.ch <- report
			continue
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case s.reports <- report:
		}
	}
	return nil
}

// Reports delivers interrupt reports not consumed by a round trip.
func (s *Session) Reports() <-chan protocol.Report {
	return s.reports
}

// Handshake sends the session initializer and blocks until the device
// identifies the session, capturing the nibble carried by every later
// command. Failure here is fatal to the connection.
func (s *Session) Handshake(ctx context.Context) error {
	frame := protocol.MustEncode(protocol.CmdInitializeSession, protocol.CanonicalSession, nil)
	report, err := s.roundTrip(ctx, frame, s.handshakeWait, func(r protocol.Report) bool {
		return r.Kind == protocol.ReportSession
	})
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrHandshakeTimeout, err)
	}

	s.mu.Lock()
	s.session = report.Session
	s.established = true
	s.mu.Unlock()
	s.log.Info("session established", zap.Uint8("session", report.Session))
	return nil
}

// Nibble returns the captured session nibble.
func (s *Session) Nibble() (byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.established
}

// Send stamps the frame with the session nibble and writes it.
func (s *Session) Send(ctx context.Context, frame protocol.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.write(frame)
}

// SendBatch writes a frame sequence while holding the writer, so no other
// sender can interleave. Cancelling ctx abandons the rest of the sequence
// between frames; a later sequence reopening its own marker resynchronizes
// the device.
func (s *Session) SendBatch(ctx context.Context, frames []protocol.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.write(frame); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) write(frame protocol.Frame) error {
	s.mu.Lock()
	if s.established {
		frame = frame.WithSession(s.session)
	}
	s.mu.Unlock()
	return s.tr.Write(frame[:])
}

// Query sends a frame and waits for its acknowledgement echo, returning the
// reply payload.
func (s *Session) Query(ctx context.Context, cmd protocol.Command, payload []byte) ([]byte, error) {
	s.mu.Lock()
	stamped := s.session
	if !s.established {
		stamped = protocol.CanonicalSession
	}
	s.mu.Unlock()

	frame, err := protocol.Encode(cmd, stamped, payload)
	if err != nil {
		return nil, err
	}
	report, err := s.roundTrip(ctx, frame, s.ackWait, func(r protocol.Report) bool {
		return r.Acks(frame)
	})
	if err != nil {
		return nil, err
	}
	if len(report.Raw) <= 4 {
		return nil, nil
	}
	return report.Raw[4:], nil
}

// FirmwareVersion queries the named firmware bank (0 bootloader, 1 firmware).
func (s *Session) FirmwareVersion(ctx context.Context, bank byte) (string, error) {
	payload, err := s.Query(ctx, protocol.CmdGetVersion, []byte{bank})
	if err != nil {
		return "", fmt.Errorf("querying firmware version: %w", err)
	}
	return protocol.DecodeVersion(payload)
}

var errRoundTripBusy = errors.New("another round trip is in flight")

func (s *Session) roundTrip(ctx context.Context, frame protocol.Frame, timeout time.Duration, match func(protocol.Report) bool) (protocol.Report, error) {
	w := &waiter{match: match, ch: make(chan protocol.Report, 1)}
	s.mu.Lock()
	if s.waiter != nil {
		s.mu.Unlock()
		return protocol.Report{}, errRoundTripBusy
	}
	s.waiter = w
	s.mu.Unlock()

	clear := func() {
		s.mu.Lock()
		if s.waiter == w {
			s.waiter = nil
		}
		s.mu.Unlock()
	}

	s.writeMu.Lock()
	err := s.tr.Write(frame[:])
	s.writeMu.Unlock()
	if err != nil {
		clear()
		return protocol.Report{}, fmt.Errorf("writing frame: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		clear()
		return protocol.Report{}, ctx.Err()
	case <-timer.C:
		clear()
		return protocol.Report{}, fmt.Errorf("no reply to %s within %s", frame.Command(), timeout)
	case report := <-w.ch:
		return report, nil
	}
}
