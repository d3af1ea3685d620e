package terminalbridge

import (
	"context"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/sandboxpool/orchestrator/internal/k8sclient"
)

type fakePeer struct {
	mu       sync.Mutex
	written  []frame
	closed   bool
}

type frame struct {
	messageType int
	data        []byte
}

func (p *fakePeer) ReadMessage() (int, []byte, error) {
	return 0, nil, assert.AnError
}

func (p *fakePeer) WriteMessage(messageType int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	p.written = append(p.written, frame{messageType: messageType, data: cp})
	return nil
}

func (p *fakePeer) Close() error {
	p.closed = true
	return nil
}

func TestPrefixWriter_PrependsChannelOctet(t *testing.T) {
	peer := &fakePeer{}
	var mu sync.Mutex
	w := &prefixWriter{peer: peer, channel: channelStdout, mu: &mu}

	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.Len(t, peer.written, 1)
	got := peer.written[0]
	assert.Equal(t, websocket.BinaryMessage, got.messageType)
	assert.Equal(t, byte(channelStdout), got.data[0])
	assert.Equal(t, "hello", string(got.data[1:]))
}

func TestSizeQueue_PushThenNext(t *testing.T) {
	q := newSizeQueue()
	q.push(80, 24)

	size := q.Next()
	require.NotNil(t, size)
	assert.Equal(t, uint16(80), size.Width)
	assert.Equal(t, uint16(24), size.Height)
}

func TestSizeQueue_NextReturnsNilAfterClose(t *testing.T) {
	q := newSizeQueue()
	q.close()
	assert.Nil(t, q.Next())
}

func TestSizeQueue_DropsResizeWhenQueueFull(t *testing.T) {
	q := newSizeQueue()
	for i := 0; i < 4; i++ {
		q.push(uint16(i), uint16(i))
	}
	q.push(99, 99) // queue full, dropped rather than blocking

	first := q.Next()
	require.NotNil(t, first)
	assert.Equal(t, uint16(0), first.Width)
}

func TestResize_ReturnsFalseWhenNoSessionActive(t *testing.T) {
	cs := fake.NewSimpleClientset()
	k8s := k8sclient.New(cs, nil)
	b := New(k8s, "sandboxes")

	assert.False(t, b.Resize("unknown", 80, 24))
}

func TestResize_PushesIntoActiveSessionQueue(t *testing.T) {
	cs := fake.NewSimpleClientset()
	k8s := k8sclient.New(cs, nil)
	b := New(k8s, "sandboxes")

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	sizes := newSizeQueue()
	b.sessions.Store("sbx-1", &session{sizes: sizes, cancel: cancel})

	ok := b.Resize("sbx-1", 100, 40)
	require.True(t, ok)

	size := sizes.Next()
	require.NotNil(t, size)
	assert.Equal(t, uint16(100), size.Width)
	assert.Equal(t, uint16(40), size.Height)
}
