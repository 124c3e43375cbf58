package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"watchparty/internal/room"
	"watchparty/protocol"
)

const (
	writeWait       = 10 * time.Second
	maxMessageSize  = 16 * 1024
	defaultPongWait = 15 * time.Second
)

func (s *Server) pongWait() time.Duration {
	if s.cfg.PresenceTimeout > 0 {
		return s.cfg.PresenceTimeout
	}
	return defaultPongWait
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "error", err)
		return
	}
	defer ws.Close()

	pongWait := s.pongWait()
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))

	// The first frame must be a join; everything else is refused before a
	// seat exists.
	var env protocol.Envelope
	if err := ws.ReadJSON(&env); err != nil {
		return
	}
	if env.Type != protocol.TypeJoin {
		s.writeDirectError(ws, protocol.KindInvalidInput, "first message must be join")
		return
	}
	var join protocol.JoinPayload
	if err := env.Decode(&join); err != nil {
		s.writeDirectError(ws, protocol.KindInvalidInput, "malformed join payload")
		return
	}

	c, state, err := s.registry.Attach(roomID, join)
	if err != nil {
		s.writeDirectError(ws, room.ErrorKind(err), err.Error())
		return
	}
	defer c.Close()

	logger := s.logger.With(
		slog.String("room", c.RoomID()),
		slog.String("participant", c.ParticipantID()))
	logger.Info("websocket attached")

	stateEnv, err := protocol.NewEnvelope(protocol.TypeRoomState, state)
	if err != nil {
		logger.Error("encode room state", "error", err)
		return
	}
	go s.writePump(ws, c, stateEnv)
	s.readLoop(ws, c, logger)
	logger.Info("websocket detached")
}

// readLoop turns inbound frames into room commands. Command failures go back
// to this connection only; they never reach the room's broadcast path.
func (s *Server) readLoop(ws *websocket.Conn, c *room.Conn, logger *slog.Logger) {
	pongWait := s.pongWait()
	ws.SetPongHandler(func(string) error {
		c.Heartbeat()
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env protocol.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		c.Heartbeat()

		if env.Type == protocol.TypeLeave {
			c.Leave()
			return
		}
		if err := s.dispatch(c, env); err != nil {
			errEnv, encErr := protocol.NewEnvelope(protocol.TypeError, protocol.ErrorPayload{
				Kind:   room.ErrorKind(err),
				Detail: err.Error(),
			})
			if encErr == nil {
				c.Deliver(errEnv)
			}
			logger.Info("command rejected", slog.String("type", env.Type), slog.Any("error", err))
		}
	}
}

func (s *Server) dispatch(c *room.Conn, env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeChat:
		var p protocol.ChatPayload
		if err := env.Decode(&p); err != nil {
			return fmt.Errorf("%w: malformed chat payload", room.ErrInvalidInput)
		}
		return c.Chat(p.Text)
	case protocol.TypeSetSource:
		var p protocol.SetSourcePayload
		if err := env.Decode(&p); err != nil {
			return fmt.Errorf("%w: malformed setSource payload", room.ErrInvalidInput)
		}
		return c.SetSource(p.URL)
	case protocol.TypePlayback:
		var p protocol.PlaybackPayload
		if err := env.Decode(&p); err != nil {
			return fmt.Errorf("%w: malformed playback payload", room.ErrInvalidInput)
		}
		return c.Playback(p.IsPlaying, p.PositionSeconds)
	case protocol.TypeSeek:
		var p protocol.SeekPayload
		if err := env.Decode(&p); err != nil {
			return fmt.Errorf("%w: malformed seek payload", room.ErrInvalidInput)
		}
		return c.Seek(p.PositionSeconds)
	case protocol.TypeJoin:
		return fmt.Errorf("%w: already joined", room.ErrInvalidInput)
	default:
		return fmt.Errorf("%w: unknown message type %q", room.ErrInvalidInput, env.Type)
	}
}

// writePump owns all writes to the socket: queued events, pings, and the
// close frame when the seat's connection is released.
func (s *Server) writePump(ws *websocket.Conn, c *room.Conn, first protocol.Envelope) {
	pingPeriod := s.pongWait() * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer ws.Close()

	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(first); err != nil {
		c.Close()
		return
	}
	for {
		select {
		case env := <-c.Events():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(env); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// writeDirectError reports a failure on a socket that never got a seat.
func (s *Server) writeDirectError(ws *websocket.Conn, kind, detail string) {
	env, err := protocol.NewEnvelope(protocol.TypeError, protocol.ErrorPayload{Kind: kind, Detail: detail})
	if err != nil {
		return
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteJSON(env)
}
