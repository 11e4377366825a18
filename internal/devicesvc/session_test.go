package devicesvc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/glimmerkb/glimmer-agent/internal/protocol"
)

// fakeTransport records writes and feeds back canned replies. A respond hook,
// when set, is called with every written frame and its return values are
// queued as inbound reports.
type fakeTransport struct {
	mu      sync.Mutex
	written [][]byte
	inbound chan []byte
	respond func(frame []byte) [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan []byte, 16)}
}

func (f *fakeTransport) Write(data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	f.mu.Lock()
	f.written = append(f.written, buf)
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		for _, reply := range respond(buf) {
			f.inbound <- reply
		}
	}
	return nil
}

func (f *fakeTransport) Read(timeout time.Duration) ([]byte, error) {
	select {
	case data := <-f.inbound:
		return data, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

func startSession(t *testing.T, tr *fakeTransport) (*Session, context.CancelFunc) {
	t.Helper()
	session := NewSession(zap.NewNop(), tr)
	session.handshakeWait = 100 * time.Millisecond
	session.ackWait = 100 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = session.Start(ctx) }()
	t.Cleanup(cancel)
	return session, cancel
}

func TestHandshakeCapturesNibble(t *testing.T) {
	tr := newFakeTransport()
	tr.respond = func(frame []byte) [][]byte {
		if frame[2] == 0x00 && frame[3]&0xf0 == 0x10 {
			// the device answers with its own nibble, not the one we sent
			return [][]byte{{0x11, 0xff, 0x00, 0x1d}}
		}
		return nil
	}
	session, _ := startSession(t, tr)

	require.NoError(t, session.Handshake(context.Background()))
	nibble, ok := session.Nibble()
	require.True(t, ok)
	assert.Equal(t, byte(0x0d), nibble)

	// Every later frame is restamped with the captured nibble.
	require.NoError(t, session.Send(context.Background(),
		protocol.MustEncode(protocol.CmdCommit, protocol.CanonicalSession, nil)))
	frames := tr.frames()
	last := frames[len(frames)-1]
	assert.Equal(t, []byte{0x11, 0xff, 0x10, 0x7d}, last[:4])
}

func TestHandshakeTimesOut(t *testing.T) {
	tr := newFakeTransport()
	session, _ := startSession(t, tr)

	err := session.Handshake(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrHandshakeTimeout)
}

func TestSendBatchHoldsWriterAndAbandonsOnCancel(t *testing.T) {
	tr := newFakeTransport()
	session, _ := startSession(t, tr)

	ctx, cancel := context.WithCancel(context.Background())
	tr.respond = func(frame []byte) [][]byte {
		cancel()
		return nil
	}

	frames := []protocol.Frame{
		protocol.MustEncode(protocol.CmdMarkerStart, protocol.CanonicalSession, nil),
		protocol.MustEncode(protocol.CmdMarkerEnd, protocol.CanonicalSession, nil),
		protocol.MustEncode(protocol.CmdCommit, protocol.CanonicalSession, nil),
	}
	err := session.SendBatch(ctx, frames)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, tr.frames(), 1, "remaining frames are abandoned after cancellation")
}

func TestQueryReturnsReplyPayload(t *testing.T) {
	tr := newFakeTransport()
	tr.respond = func(frame []byte) [][]byte {
		if frame[2] == 0x02 {
			reply := append([]byte{}, frame[:4]...)
			reply = append(reply, 0x00, 'U', '1', ' ', 0x25, 0x10, 0x00, 0x42)
			return [][]byte{reply}
		}
		return nil
	}
	session, _ := startSession(t, tr)

	version, err := session.FirmwareVersion(context.Background(), 0x01)
	require.NoError(t, err)
	assert.Equal(t, "U1 125.10.42", version)
}

func TestUnclaimedReportsReachConsumer(t *testing.T) {
	tr := newFakeTransport()
	session, _ := startSession(t, tr)

	tr.inbound <- []byte{0x11, 0xff, 0x0a, 0x00, 0x02}

	select {
	case report := <-session.Reports():
		assert.Equal(t, protocol.ReportGKeys, report.Kind)
		assert.Equal(t, byte(0x02), report.Bitmask)
	case <-time.After(time.Second):
		t.Fatal("report was not delivered")
	}
}
