// Package client implements the session transport a watch-party client uses
// to talk to a room: one duplex websocket with automatic reconnection.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"watchparty/protocol"
)

const (
	defaultBackoffBase = 3 * time.Second
	defaultBackoffMax  = 30 * time.Second
	writeWait          = 10 * time.Second
)

// ErrNotConnected is returned by Send while the transport is between
// connections. Delivery is best effort; callers may simply retry.
var ErrNotConnected = errors.New("transport not connected")

// Options tunes a Transport.
type Options struct {
	// DisplayName is shown to other participants.
	DisplayName string
	// ParticipantID reclaims an existing seat; leave empty for a new one.
	ParticipantID string
	// WantsHost requests host authority (and creates the room if absent).
	WantsHost bool
	// BackoffBase is the first reconnect delay, doubled up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = defaultBackoffMax
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Transport is one client's connection to one room. Events delivers the
// inbound stream across reconnects; a reconnect rejoins with the same
// participant id so the server treats it as the same seat.
type Transport struct {
	wsURL  string
	roomID string
	opts   Options
	logger *slog.Logger

	events chan protocol.Envelope
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu            sync.Mutex
	conn          *websocket.Conn
	participantID string

	closeOnce sync.Once
}

// Dial connects to a room on the given server. serverURL accepts http(s) or
// ws(s) schemes. The initial connection is made synchronously; afterwards
// the transport reconnects on its own until Close.
func Dial(ctx context.Context, serverURL, roomID string, opts Options) (*Transport, error) {
	opts = opts.withDefaults()
	wsURL, err := websocketURL(serverURL, roomID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		wsURL:         wsURL,
		roomID:        roomID,
		opts:          opts,
		logger:        opts.Logger.With(slog.String("room", roomID)),
		events:        make(chan protocol.Envelope, 64),
		ctx:           runCtx,
		cancel:        cancel,
		done:          make(chan struct{}),
		participantID: opts.ParticipantID,
	}

	conn, err := t.connect(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	t.setConn(conn)
	go t.run()
	return t, nil
}

func websocketURL(serverURL, roomID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/rooms/" + url.PathEscape(roomID)
	return u.String(), nil
}

// connect dials and sends the join frame. It does not wait for roomState;
// that arrives on the event stream.
func (t *Transport) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.wsURL, err)
	}
	join := protocol.JoinPayload{
		ParticipantID: t.ParticipantID(),
		DisplayName:   t.opts.DisplayName,
		WantsHost:     t.opts.WantsHost,
	}
	env, err := protocol.NewEnvelope(protocol.TypeJoin, join)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(env); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}
	return conn, nil
}

func (t *Transport) run() {
	defer close(t.done)
	backoff := t.opts.BackoffBase
	for {
		conn := t.current()
		if conn == nil {
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > t.opts.BackoffMax {
				backoff = t.opts.BackoffMax
			}
			c, err := t.connect(t.ctx)
			if err != nil {
				if t.ctx.Err() != nil {
					return
				}
				t.logger.Warn("reconnect failed", slog.Any("error", err))
				continue
			}
			t.logger.Info("reconnected")
			t.setConn(c)
			conn = c
		}

		if t.readUntilFailure(conn) {
			return
		}
		backoff = t.opts.BackoffBase
	}
}

// readUntilFailure pumps inbound frames into the event stream. It returns
// true when the transport is shutting down for good.
func (t *Transport) readUntilFailure(conn *websocket.Conn) bool {
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			conn.Close()
			t.setConn(nil)
			if t.ctx.Err() != nil {
				return true
			}
			t.logger.Warn("connection lost", slog.Any("error", err))
			return false
		}
		if env.Type == protocol.TypeRoomState {
			var state protocol.RoomStatePayload
			if decErr := env.Decode(&state); decErr == nil && state.SelfID != "" {
				t.setParticipantID(state.SelfID)
			}
		}
		select {
		case t.events <- env:
		case <-t.ctx.Done():
			return true
		}
	}
}

// Events is the inbound event stream. It survives reconnects; a fresh
// roomState envelope marks each (re)attachment.
func (t *Transport) Events() <-chan protocol.Envelope { return t.events }

// ParticipantID returns the seat id assigned by the server, or the
// configured one before the first roomState arrives.
func (t *Transport) ParticipantID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.participantID
}

// Send transmits one envelope. Fire-and-forget: ordering holds per
// connection, delivery is best effort.
func (t *Transport) Send(env protocol.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := t.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

func (t *Transport) send(msgType string, payload any) error {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return t.Send(env)
}

// Chat posts a chat message to the room.
func (t *Transport) Chat(text string) error {
	return t.send(protocol.TypeChat, protocol.ChatPayload{Text: text})
}

// SetSource asks the room to switch video source. Host only.
func (t *Transport) SetSource(url string) error {
	return t.send(protocol.TypeSetSource, protocol.SetSourcePayload{URL: url})
}

// Playback sends a host play/pause transport event.
func (t *Transport) Playback(isPlaying bool, positionSeconds float64) error {
	return t.send(protocol.TypePlayback, protocol.PlaybackPayload{
		IsPlaying:       isPlaying,
		PositionSeconds: positionSeconds,
	})
}

// Seek sends a host seek event.
func (t *Transport) Seek(positionSeconds float64) error {
	return t.send(protocol.TypeSeek, protocol.SeekPayload{PositionSeconds: positionSeconds})
}

// Leave gives up the seat explicitly, then closes the transport.
func (t *Transport) Leave() error {
	err := t.send(protocol.TypeLeave, nil)
	t.Close()
	return err
}

// Close stops reconnecting and releases the connection. Idempotent.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		t.cancel()
		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		}
		<-t.done
	})
}

func (t *Transport) current() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *Transport) setConn(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
}

func (t *Transport) setParticipantID(id string) {
	t.mu.Lock()
	t.participantID = id
	t.mu.Unlock()
}
