// Package protocol defines the wire format shared by the server, the client
// transport and the CLI: one JSON envelope per websocket frame, with the
// payload shape selected by the envelope type.
package protocol

import (
	"encoding/json"
	"time"
)

// Inbound command types, sent by a connection to its room.
const (
	TypeJoin      = "join"
	TypeLeave     = "leave"
	TypeChat      = "chat"
	TypeSetSource = "setSource"
	TypePlayback  = "playback"
	TypeSeek      = "seek"
)

// Outbound event types, broadcast by a room to attached connections.
const (
	TypeRoomState         = "roomState"
	TypeParticipantJoined = "participantJoined"
	TypeParticipantLeft   = "participantLeft"
	TypeHostChanged       = "hostChanged"
	TypeChatPosted        = "chatPosted"
	TypeSourceChanged     = "sourceChanged"
	TypePlaybackUpdated   = "playbackUpdated"
	TypeError             = "error"
)

// Error kinds carried by an ErrorPayload.
const (
	KindRoomNotFound  = "roomNotFound"
	KindNotAuthorized = "notAuthorized"
	KindInvalidInput  = "invalidInput"
	KindTransport     = "transportFailure"
)

// Connection states for a participant.
const (
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
	StateDisconnected = "disconnected"
)

// Envelope is the outermost frame on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// Decode unmarshals the envelope payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, dst)
}

// Participant is one member of a room as seen on the wire.
type Participant struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"displayName"`
	IsHost          bool      `json:"isHost"`
	ConnectionState string    `json:"connectionState"`
	JoinedAt        time.Time `json:"joinedAt"`
}

// ChatMessage ids are allocated by the room and are the ordering key; wall
// clock is informational only.
type ChatMessage struct {
	ID       int64     `json:"id"`
	SenderID string    `json:"senderId"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sentAt"`
}

// JoinPayload opens a seat in a room. ParticipantID is set on reconnect to
// reclaim the same seat; a fresh join leaves it empty.
type JoinPayload struct {
	ParticipantID string `json:"participantId,omitempty"`
	DisplayName   string `json:"displayName"`
	WantsHost     bool   `json:"wantsHost"`
}

type ChatPayload struct {
	Text string `json:"text"`
}

type SetSourcePayload struct {
	URL string `json:"url"`
}

type PlaybackPayload struct {
	IsPlaying       bool    `json:"isPlaying"`
	PositionSeconds float64 `json:"positionSeconds"`
}

type SeekPayload struct {
	PositionSeconds float64 `json:"positionSeconds"`
}

// RoomStatePayload seeds a joining connection with the authoritative room
// state, including the retained chat tail.
type RoomStatePayload struct {
	RoomID       string        `json:"roomId"`
	SelfID       string        `json:"selfId"`
	HostID       string        `json:"hostId,omitempty"`
	Participants []Participant `json:"participants"`
	Chat         []ChatMessage `json:"chat"`
	Playback     PlaybackState `json:"playback"`
}

type ParticipantJoinedPayload struct {
	Participant Participant `json:"participant"`
}

type ParticipantLeftPayload struct {
	ParticipantID string `json:"participantId"`
}

type HostChangedPayload struct {
	ParticipantID string `json:"participantId"`
}

type ChatPostedPayload struct {
	Message ChatMessage `json:"message"`
}

type PlaybackUpdatedPayload struct {
	Playback PlaybackState `json:"playback"`
}

type ErrorPayload struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}
