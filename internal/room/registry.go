package room

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"watchparty/internal/metrics"
	"watchparty/protocol"
)

const (
	roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomIDLength   = 6

	createAttempts = 10
)

// NormalizeRoomID upper-cases and trims a caller-supplied room id so lookups
// are case-insensitive.
func NormalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func newRoomID() (string, error) {
	buf := make([]byte, roomIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}
	for i, b := range buf {
		buf[i] = roomIDAlphabet[int(b)%len(roomIDAlphabet)]
	}
	return string(buf), nil
}

// Registry is the process-wide table of active rooms. It creates and
// destroys rooms and routes inbound connections to the right one; everything
// past the lookup happens inside the room's own loop.
type Registry struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
}

func NewRegistry(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: m,
		rooms:   make(map[string]*Room),
	}
}

// CreateRoom generates a fresh room id and brings the room up. Collisions
// are unlikely but retried, not assumed away.
func (g *Registry) CreateRoom() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return "", ErrRoomNotFound
	}
	for i := 0; i < createAttempts; i++ {
		id, err := newRoomID()
		if err != nil {
			return "", err
		}
		if _, taken := g.rooms[id]; taken {
			continue
		}
		g.addLocked(id)
		return id, nil
	}
	return "", fmt.Errorf("room id space exhausted after %d attempts", createAttempts)
}

func (g *Registry) addLocked(id string) *Room {
	r := newRoom(id, g.cfg, g.logger, g.metrics, g.remove)
	g.rooms[id] = r
	g.metrics.RoomsActive.Inc()
	g.logger.Info("room created", slog.String("room", id))
	return r
}

func (g *Registry) remove(r *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[r.id] == r {
		delete(g.rooms, r.id)
		g.metrics.RoomsActive.Dec()
	}
}

// Attach connects a participant to a room. A missing room is an error unless
// the joiner wants to host, in which case it is created under the given id.
// The returned state snapshot carries membership, playback and the retained
// chat tail.
func (g *Registry) Attach(roomID string, join protocol.JoinPayload) (*Conn, protocol.RoomStatePayload, error) {
	id := NormalizeRoomID(roomID)
	if id == "" {
		return nil, protocol.RoomStatePayload{}, fmt.Errorf("%w: empty room id", ErrInvalidInput)
	}
	for {
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return nil, protocol.RoomStatePayload{}, fmt.Errorf("%w: registry closed", ErrRoomNotFound)
		}
		r, ok := g.rooms[id]
		if !ok {
			if !join.WantsHost {
				g.mu.Unlock()
				return nil, protocol.RoomStatePayload{}, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
			}
			r = g.addLocked(id)
		}
		g.mu.Unlock()

		// The room can drain away between lookup and join; retry the
		// lookup rather than failing the caller.
		if res, alive := r.attach(join); alive {
			return res.conn, res.state, nil
		}
	}
}

// Detach removes a participant from a room. Idempotent: a missing room or an
// already-detached participant is a no-op.
func (g *Registry) Detach(roomID, participantID string) {
	g.mu.Lock()
	r, ok := g.rooms[NormalizeRoomID(roomID)]
	g.mu.Unlock()
	if ok {
		r.detach(participantID)
	}
}

// Lookup reports whether a room exists and its participant summary.
func (g *Registry) Lookup(roomID string) (Info, bool) {
	g.mu.Lock()
	r, ok := g.rooms[NormalizeRoomID(roomID)]
	g.mu.Unlock()
	if !ok {
		return Info{}, false
	}
	return r.info()
}

// Close tears down every room and refuses further attaches.
func (g *Registry) Close() {
	g.mu.Lock()
	g.closed = true
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()
	for _, r := range rooms {
		r.stop()
	}
}
