package room

import "time"

const (
	defaultPresenceTimeout = 15 * time.Second
	defaultGraceWindow     = 60 * time.Second
	defaultChatMaxLength   = 2000
	defaultChatHistory     = 100
	defaultSendQueue       = 32
)

// Config tunes room lifecycle and limits. The zero value gets defaults.
type Config struct {
	// PresenceTimeout is how long a participant may stay silent (no pong,
	// no open connection) before a leave is synthesized for them.
	PresenceTimeout time.Duration
	// PresenceInterval is how often the room sweeps for stale participants.
	PresenceInterval time.Duration
	// GraceWindow is how long an empty room survives before destruction.
	GraceWindow time.Duration
	// ChatMaxLength caps chat text length after trimming.
	ChatMaxLength int
	// ChatHistory is how many messages the room retains for replay on join.
	ChatHistory int
	// SendQueue bounds each connection's outbound event queue; overflow
	// disconnects that connection only.
	SendQueue int
}

func (c Config) withDefaults() Config {
	if c.PresenceTimeout <= 0 {
		c.PresenceTimeout = defaultPresenceTimeout
	}
	if c.PresenceInterval <= 0 {
		c.PresenceInterval = c.PresenceTimeout / 3
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = defaultGraceWindow
	}
	if c.ChatMaxLength <= 0 {
		c.ChatMaxLength = defaultChatMaxLength
	}
	if c.ChatHistory <= 0 {
		c.ChatHistory = defaultChatHistory
	}
	if c.SendQueue <= 0 {
		c.SendQueue = defaultSendQueue
	}
	return c
}
