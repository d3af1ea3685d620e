// Package terminalbridge implements the Terminal Bridge of spec.md §4.12:
// an octet-framed multiplexed pty session between a peer (the edge
// adapter's WebSocket client) and a workload's /bin/bash, carried over the
// orchestrator's own exec channel.
package terminalbridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/sandboxpool/orchestrator/internal/k8sclient"
	"github.com/sandboxpool/orchestrator/internal/labels"
)

// Channel octets of the multiplexed wire protocol between bridge and peer.
// Frames sent to the peer start with channelStdout or channelStderr. Frames
// from the peer carry no octet: a binary frame is raw stdin and a text frame
// is a JSON control frame, so channelStdin and channelResize are not used on
// the wire.
const (
	channelStdin  = 0
	channelStdout = 1
	channelStderr = 2
	channelResize = 4
)

// Peer is the minimal WebSocket surface the bridge needs; *websocket.Conn
// satisfies it directly.
type Peer interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type resizePayload struct {
	Width  uint16 `json:"Width"`
	Height uint16 `json:"Height"`
}

type controlFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// sizeQueue implements remotecommand.TerminalSizeQueue over a buffered
// channel fed by resize control frames from the peer.
type sizeQueue struct {
	ch chan remotecommand.TerminalSize
}

func newSizeQueue() *sizeQueue {
	return &sizeQueue{ch: make(chan remotecommand.TerminalSize, 4)}
}

func (q *sizeQueue) Next() *remotecommand.TerminalSize {
	s, ok := <-q.ch
	if !ok {
		return nil
	}
	return &s
}

func (q *sizeQueue) push(w, h uint16) {
	select {
	case q.ch <- remotecommand.TerminalSize{Width: w, Height: h}:
	default:
		// Drop a stale resize rather than block the read pump on a full queue.
	}
}

func (q *sizeQueue) close() { close(q.ch) }

// session tracks one active terminal for Resize to find.
type session struct {
	sizes  *sizeQueue
	cancel context.CancelFunc
}

// Bridge runs terminal sessions and keeps a registry of the active ones,
// keyed by workload name, so an out-of-band Resize can reach them.
type Bridge struct {
	k8s       *k8sclient.Client
	ns        string
	sessions  sync.Map // string -> *session
}

// New builds a Bridge.
func New(k8s *k8sclient.Client, namespace string) *Bridge {
	return &Bridge{k8s: k8s, ns: namespace}
}

// prefixWriter forwards every Write as a single binary frame to peer,
// prefixed with the given channel octet.
type prefixWriter struct {
	peer    Peer
	channel byte
	mu      *sync.Mutex
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	framed := make([]byte, len(p)+1)
	framed[0] = w.channel
	copy(framed[1:], p)

	w.mu.Lock()
	err := w.peer.WriteMessage(websocket.BinaryMessage, framed)
	w.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Terminal opens a bash session against the workload and pumps it against
// peer until either side closes or ctx is cancelled. It blocks until the
// session ends.
func (b *Bridge) Terminal(ctx context.Context, name string, peer Peer) error {
	sessCtx, cancel := context.WithCancel(ctx)
	sizes := newSizeQueue()
	defer sizes.close()

	b.sessions.Store(name, &session{sizes: sizes, cancel: cancel})
	defer b.sessions.Delete(name)
	defer cancel()

	stdinR, stdinW := io.Pipe()
	defer stdinW.Close()

	var writeMu sync.Mutex
	stdout := &prefixWriter{peer: peer, channel: channelStdout, mu: &writeMu}
	stderr := &prefixWriter{peer: peer, channel: channelStderr, mu: &writeMu}

	execErr := make(chan error, 1)
	go func() {
		execErr <- b.k8s.Exec(sessCtx, k8sclient.ExecOptions{
			Namespace: b.ns,
			PodName:   name,
			Container: k8sclient.WorkloadContainerName,
			Command:   []string{"/bin/bash"},
			Stdin:     true,
			Stdout:    true,
			Stderr:    true,
			TTY:       true,
			IO: remotecommand.StreamOptions{
				Stdin:  stdinR,
				Stdout: stdout,
				Stderr: stderr,
			},
			TerminalQueue: sizes,
		})
	}()

	peerErr := make(chan error, 1)
	go func() {
		peerErr <- b.pumpPeer(sessCtx, name, peer, stdinW, sizes)
	}()

	var err error
	select {
	case err = <-execErr:
		cancel()
	case err = <-peerErr:
		cancel()
	case <-sessCtx.Done():
		err = sessCtx.Err()
	}

	closeCode := websocket.CloseNormalClosure
	_ = peer.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, ""))
	_ = peer.Close()

	if err != nil && sessCtx.Err() != nil {
		return nil
	}
	return err
}

// pumpPeer reads frames from peer and forwards stdin bytes and resize
// control frames into the exec session, touching last-activity on every
// inbound frame.
func (b *Bridge) pumpPeer(ctx context.Context, name string, peer Peer, stdin io.WriteCloser, sizes *sizeQueue) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		mt, data, err := peer.ReadMessage()
		if err != nil {
			return err
		}

		b.touchActivity(ctx, name)

		switch mt {
		case websocket.BinaryMessage:
			if _, err := stdin.Write(data); err != nil {
				return err
			}
		case websocket.TextMessage:
			var frame controlFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			if frame.Type == "resize" {
				var rp resizePayload
				if err := json.Unmarshal(frame.Payload, &rp); err == nil {
					sizes.push(rp.Width, rp.Height)
				}
			}
		}
	}
}

func (b *Bridge) touchActivity(ctx context.Context, name string) {
	if err := b.k8s.PatchAnnotations(ctx, b.ns, name, map[string]string{
		labels.KeyLastActivity: labels.NowString(),
	}); err != nil {
		slog.Warn("terminalbridge: last-activity patch failed", "name", name, "err", err)
	}
}

// Resize looks up the named session's size queue and pushes a resize
// event, per spec.md §4.12 step 5. Returns false if no session is active
// for name.
func (b *Bridge) Resize(name string, cols, rows uint16) bool {
	v, ok := b.sessions.Load(name)
	if !ok {
		return false
	}
	v.(*session).sizes.push(cols, rows)
	return true
}
