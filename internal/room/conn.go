package room

import (
	"sync"

	"watchparty/protocol"
)

// Conn binds one physical connection to one participant seat in one room.
// A reconnect produces a new Conn bound to the same participant id.
type Conn struct {
	id            string
	participantID string
	room          *Room

	events    chan protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// ParticipantID returns the id of the seat this connection is bound to.
func (c *Conn) ParticipantID() string { return c.participantID }

// RoomID returns the id of the room this connection is attached to.
func (c *Conn) RoomID() string { return c.room.id }

// Events is the stream of outbound envelopes for this connection. The
// channel is never closed; readers stop on Done.
func (c *Conn) Events() <-chan protocol.Envelope { return c.events }

// Done is closed when the connection is released, either by Close or by the
// room (queue overflow, seat replaced, room destroyed).
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close releases the connection. The participant keeps their seat until the
// presence timeout expires, so a reconnect lands back on it. Idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		cmd := command{kind: cmdConnClosed, conn: c}
		select {
		case c.room.commands <- cmd:
		case <-c.room.done:
		default:
			go func() {
				select {
				case c.room.commands <- cmd:
				case <-c.room.done:
				}
			}()
		}
	})
}

// shutdown is the room-side release: it must never re-enter the room loop.
func (c *Conn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Deliver queues an envelope to this connection only, bypassing the room.
// Used for caller-only error events. Best effort: false means the queue was
// full or the connection is gone.
func (c *Conn) Deliver(env protocol.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- env:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// do submits a command and waits for the caller-only result.
func (c *Conn) do(cmd command) error {
	cmd.conn = c
	cmd.reply = make(chan error, 1)
	select {
	case c.room.commands <- cmd:
	case <-c.room.done:
		return ErrRoomNotFound
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.room.done:
		return ErrRoomNotFound
	}
}

// Chat posts a message to the room; it is broadcast to everyone, sender
// included, so all clients render one authoritative order.
func (c *Conn) Chat(text string) error {
	return c.do(command{kind: cmdChat, text: text})
}

// SetSource changes the room's video source. Host only.
func (c *Conn) SetSource(url string) error {
	return c.do(command{kind: cmdSetSource, url: url})
}

// Playback applies a host play/pause/position transport event.
func (c *Conn) Playback(isPlaying bool, positionSeconds float64) error {
	return c.do(command{kind: cmdPlayback, playing: isPlaying, position: positionSeconds})
}

// Seek moves the playback position without touching the play state. Host only.
func (c *Conn) Seek(positionSeconds float64) error {
	return c.do(command{kind: cmdSeek, position: positionSeconds})
}

// Leave gives up the seat immediately and releases the connection.
func (c *Conn) Leave() {
	_ = c.do(command{kind: cmdLeave})
	c.Close()
}

// Heartbeat refreshes the participant's last-seen time. Best effort: a
// heartbeat dropped under load is recovered by the next one.
func (c *Conn) Heartbeat() {
	select {
	case c.room.commands <- command{kind: cmdHeartbeat, conn: c}:
	case <-c.room.done:
	default:
	}
}
