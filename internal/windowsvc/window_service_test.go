package windowsvc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/glimmerkb/glimmer-agent/pkg/bus"
)

type fakeQuery struct {
	mu     sync.Mutex
	info   *WindowInfo
	err    error
	called bool
}

func (q *fakeQuery) ActiveWindow() (*WindowInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.called = true
	return q.info, q.err
}

func (q *fakeQuery) set(info *WindowInfo, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.info = info
	q.err = err
}

func startService(t *testing.T, query Query) (*Service, <-chan bus.Message[string, *WindowInfo]) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	svc := New(zap.NewNop(), query, time.Millisecond)
	go func() {
		_ = svc.Start(ctx)
	}()
	select {
	case <-svc.Ready():
	case <-time.After(time.Second):
		t.Fatal("service did not become ready")
	}
	return svc, svc.Subscribe(ctx)
}

func receive(t *testing.T, ch <-chan bus.Message[string, *WindowInfo]) *WindowInfo {
	t.Helper()
	select {
	case msg := <-ch:
		return msg.Message
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a window snapshot")
		return nil
	}
}

func TestPublishesInitialSnapshot(t *testing.T) {
	query := &fakeQuery{info: &WindowInfo{Title: "editor", Class: "Code"}}
	_, ch := startService(t, query)

	info := receive(t, ch)
	require.NotNil(t, info)
	assert.Equal(t, "editor", info.Title)
	assert.Equal(t, "Code", info.Class)
}

func TestPublishesOnlyChanges(t *testing.T) {
	query := &fakeQuery{info: &WindowInfo{Title: "one"}}
	_, ch := startService(t, query)

	assert.Equal(t, "one", receive(t, ch).Title)

	query.set(&WindowInfo{Title: "two"}, nil)
	assert.Equal(t, "two", receive(t, ch).Title)

	// No further change, no further message.
	select {
	case msg := <-ch:
		t.Fatalf("unexpected snapshot: %+v", msg.Message)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestQueryErrorPublishesNoWindow(t *testing.T) {
	query := &fakeQuery{info: &WindowInfo{Title: "one"}}
	_, ch := startService(t, query)

	require.NotNil(t, receive(t, ch))

	query.set(nil, errors.New("window gone"))
	assert.Nil(t, receive(t, ch))
}

func TestInitialNilSnapshotIsDelivered(t *testing.T) {
	_, ch := startService(t, &fakeQuery{})
	assert.Nil(t, receive(t, ch))
}
