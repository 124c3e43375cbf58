package room

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"watchparty/internal/metrics"
	"watchparty/internal/source"
	"watchparty/protocol"
)

type cmdKind int

const (
	cmdAttach cmdKind = iota
	cmdLeave
	cmdConnClosed
	cmdHeartbeat
	cmdChat
	cmdSetSource
	cmdPlayback
	cmdSeek
	cmdInfo
	cmdStop
)

type command struct {
	kind          cmdKind
	conn          *Conn
	participantID string
	join          protocol.JoinPayload
	text          string
	url           string
	playing       bool
	position      float64

	reply       chan error
	attachReply chan attachResult
	infoReply   chan Info
}

type attachResult struct {
	conn  *Conn
	state protocol.RoomStatePayload
}

// Info is a read-only summary of a room, served without touching its state
// from outside the room loop.
type Info struct {
	RoomID       string    `json:"roomId"`
	HostID       string    `json:"hostId,omitempty"`
	Participants int       `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

type member struct {
	id          string
	displayName string
	joinedAt    time.Time
	lastSeen    time.Time
	state       string
	conn        *Conn
}

// Room is the state machine for one watch party. All events for the room are
// handled one at a time by its own goroutine; nothing outside the loop reads
// or writes room state.
type Room struct {
	id        string
	createdAt time.Time
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	onDestroy func(*Room)

	commands chan command
	done     chan struct{}

	// loop-owned state
	members    map[string]*member
	hostID     string
	chat       []protocol.ChatMessage
	nextChatID int64
	playback   protocol.PlaybackState
}

func newRoom(id string, cfg Config, logger *slog.Logger, m *metrics.Metrics, onDestroy func(*Room)) *Room {
	r := &Room{
		id:        id,
		createdAt: time.Now(),
		cfg:       cfg,
		logger:    logger.With(slog.String("room", id)),
		metrics:   m,
		onDestroy: onDestroy,
		commands:  make(chan command, 64),
		done:      make(chan struct{}),
		members:   make(map[string]*member),
	}
	go r.run()
	return r
}

func (r *Room) run() {
	presence := time.NewTicker(r.cfg.PresenceInterval)
	defer presence.Stop()

	// A room is born empty, so the drain clock starts immediately.
	drain := time.NewTimer(r.cfg.GraceWindow)
	drainC := drain.C

	for {
		select {
		case cmd := <-r.commands:
			if stop := r.handle(cmd); stop {
				r.destroy()
				return
			}
		case now := <-presence.C:
			r.expireStale(now)
		case <-drainC:
			if len(r.members) == 0 {
				r.destroy()
				return
			}
			drain, drainC = nil, nil
		}

		if len(r.members) == 0 && drain == nil {
			drain = time.NewTimer(r.cfg.GraceWindow)
			drainC = drain.C
		} else if len(r.members) > 0 && drain != nil {
			drain.Stop()
			drain, drainC = nil, nil
		}
	}
}

func (r *Room) handle(cmd command) (stop bool) {
	switch cmd.kind {
	case cmdAttach:
		cmd.attachReply <- r.attachMember(cmd.join)
	case cmdLeave:
		pid := cmd.participantID
		if pid == "" && cmd.conn != nil {
			pid = cmd.conn.participantID
		}
		r.removeMember(pid, "leave")
		if cmd.reply != nil {
			cmd.reply <- nil
		}
	case cmdConnClosed:
		if m, ok := r.members[cmd.conn.participantID]; ok && m.conn == cmd.conn {
			m.conn = nil
			m.state = protocol.StateReconnecting
			m.lastSeen = time.Now()
			r.logger.Info("connection lost", slog.String("participant", m.id))
		}
	case cmdHeartbeat:
		if m, ok := r.members[cmd.conn.participantID]; ok && m.conn == cmd.conn {
			m.lastSeen = time.Now()
		}
	case cmdChat:
		cmd.reply <- r.postChat(cmd.conn, cmd.text)
	case cmdSetSource:
		cmd.reply <- r.setSource(cmd.conn, cmd.url)
	case cmdPlayback:
		cmd.reply <- r.applyTransport(cmd.conn, cmd.playing, cmd.position)
	case cmdSeek:
		cmd.reply <- r.applySeek(cmd.conn, cmd.position)
	case cmdInfo:
		cmd.infoReply <- Info{
			RoomID:       r.id,
			HostID:       r.hostID,
			Participants: len(r.members),
			CreatedAt:    r.createdAt,
		}
	case cmdStop:
		return true
	}
	return false
}

func (r *Room) attachMember(join protocol.JoinPayload) attachResult {
	now := time.Now()
	m, rejoin := r.members[join.ParticipantID]
	if rejoin {
		// Same seat, new connection. Any stale connection is displaced.
		r.dropConn(m)
		if join.DisplayName != "" {
			m.displayName = join.DisplayName
		}
	} else {
		id := join.ParticipantID
		if id == "" {
			id = uuid.NewString()
		}
		m = &member{id: id, displayName: join.DisplayName, joinedAt: now}
		r.members[id] = m
		r.metrics.ParticipantsActive.Inc()
	}
	m.state = protocol.StateConnected
	m.lastSeen = now

	if r.hostID == "" && join.WantsHost {
		r.hostID = m.id
	}

	c := &Conn{
		id:            uuid.NewString(),
		participantID: m.id,
		room:          r,
		events:        make(chan protocol.Envelope, r.cfg.SendQueue),
		done:          make(chan struct{}),
	}
	m.conn = c
	r.metrics.ConnectionsTotal.Inc()

	if !rejoin {
		r.broadcast(protocol.TypeParticipantJoined,
			protocol.ParticipantJoinedPayload{Participant: r.wireParticipant(m)}, c)
	}
	r.logger.Info("participant attached",
		slog.String("participant", m.id),
		slog.Bool("rejoin", rejoin),
		slog.Bool("host", m.id == r.hostID))

	return attachResult{conn: c, state: r.stateFor(m)}
}

func (r *Room) stateFor(m *member) protocol.RoomStatePayload {
	parts := make([]protocol.Participant, 0, len(r.members))
	for _, mm := range r.members {
		parts = append(parts, r.wireParticipant(mm))
	}
	sort.Slice(parts, func(i, j int) bool {
		if !parts[i].JoinedAt.Equal(parts[j].JoinedAt) {
			return parts[i].JoinedAt.Before(parts[j].JoinedAt)
		}
		return parts[i].ID < parts[j].ID
	})
	chat := make([]protocol.ChatMessage, len(r.chat))
	copy(chat, r.chat)
	return protocol.RoomStatePayload{
		RoomID:       r.id,
		SelfID:       m.id,
		HostID:       r.hostID,
		Participants: parts,
		Chat:         chat,
		Playback:     r.playback,
	}
}

func (r *Room) wireParticipant(m *member) protocol.Participant {
	return protocol.Participant{
		ID:              m.id,
		DisplayName:     m.displayName,
		IsHost:          m.id == r.hostID,
		ConnectionState: m.state,
		JoinedAt:        m.joinedAt,
	}
}

func (r *Room) postChat(c *Conn, text string) error {
	sender, ok := r.members[c.participantID]
	if !ok {
		return fmt.Errorf("%w: seat expired", ErrRoomNotFound)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty chat text", ErrInvalidInput)
	}
	if len(text) > r.cfg.ChatMaxLength {
		return fmt.Errorf("%w: chat text exceeds %d characters", ErrInvalidInput, r.cfg.ChatMaxLength)
	}

	r.nextChatID++
	msg := protocol.ChatMessage{
		ID:       r.nextChatID,
		SenderID: sender.id,
		Text:     text,
		SentAt:   time.Now(),
	}
	r.chat = append(r.chat, msg)
	if len(r.chat) > r.cfg.ChatHistory {
		r.chat = r.chat[len(r.chat)-r.cfg.ChatHistory:]
	}
	r.metrics.ChatMessagesTotal.Inc()

	// Sender included: everyone renders from the same assigned order.
	r.broadcast(protocol.TypeChatPosted, protocol.ChatPostedPayload{Message: msg}, nil)
	return nil
}

func (r *Room) setSource(c *Conn, url string) error {
	if err := r.requireHost(c); err != nil {
		return err
	}
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("%w: empty source url", ErrInvalidInput)
	}
	cls := source.Classify(url)
	r.playback = protocol.PlaybackState{
		SourceURL:     url,
		SourceKind:    string(cls.Kind),
		VideoID:       cls.VideoID,
		Channel:       cls.Channel,
		IsPlaying:     false,
		LastUpdatedAt: time.Now(),
		UpdatedBy:     c.participantID,
	}
	r.broadcast(protocol.TypeSourceChanged, protocol.PlaybackUpdatedPayload{Playback: r.playback}, nil)
	r.logger.Info("source changed", slog.String("kind", string(cls.Kind)), slog.String("participant", c.participantID))
	return nil
}

func (r *Room) applyTransport(c *Conn, isPlaying bool, position float64) error {
	if err := r.requireHost(c); err != nil {
		return err
	}
	if position < 0 {
		return fmt.Errorf("%w: negative position", ErrInvalidInput)
	}
	r.playback.IsPlaying = isPlaying
	r.playback.PositionSeconds = position
	r.playback.LastUpdatedAt = time.Now()
	r.playback.UpdatedBy = c.participantID
	r.metrics.PlaybackEventsTotal.Inc()

	r.broadcast(protocol.TypePlaybackUpdated, protocol.PlaybackUpdatedPayload{Playback: r.playback}, c)
	return nil
}

func (r *Room) applySeek(c *Conn, position float64) error {
	if err := r.requireHost(c); err != nil {
		return err
	}
	if position < 0 {
		return fmt.Errorf("%w: negative position", ErrInvalidInput)
	}
	r.playback.PositionSeconds = position
	r.playback.LastUpdatedAt = time.Now()
	r.playback.UpdatedBy = c.participantID
	r.metrics.PlaybackEventsTotal.Inc()

	r.broadcast(protocol.TypePlaybackUpdated, protocol.PlaybackUpdatedPayload{Playback: r.playback}, c)
	return nil
}

func (r *Room) requireHost(c *Conn) error {
	if _, ok := r.members[c.participantID]; !ok {
		return fmt.Errorf("%w: seat expired", ErrRoomNotFound)
	}
	if c.participantID != r.hostID {
		return fmt.Errorf("%w: only the host controls playback", ErrNotAuthorized)
	}
	return nil
}

// removeMember takes the seat away. No-op when the participant is already
// gone, so detach is idempotent.
func (r *Room) removeMember(pid, reason string) {
	m, ok := r.members[pid]
	if !ok {
		return
	}
	r.dropConn(m)
	delete(r.members, pid)
	r.metrics.ParticipantsActive.Dec()

	r.broadcast(protocol.TypeParticipantLeft, protocol.ParticipantLeftPayload{ParticipantID: pid}, nil)
	if r.hostID == pid {
		r.promoteHost()
	}
	r.logger.Info("participant removed", slog.String("participant", pid), slog.String("reason", reason))
}

// promoteHost hands host authority to the earliest-joined remaining
// participant, preferring one that is still connected. The snapshot is
// inherited unchanged so viewers already in sync are undisturbed.
func (r *Room) promoteHost() {
	r.hostID = ""
	var pick *member
	better := func(a, b *member) bool {
		if b == nil {
			return true
		}
		if !a.joinedAt.Equal(b.joinedAt) {
			return a.joinedAt.Before(b.joinedAt)
		}
		return a.id < b.id
	}
	for _, m := range r.members {
		if m.state == protocol.StateConnected && better(m, pick) {
			pick = m
		}
	}
	if pick == nil {
		for _, m := range r.members {
			if better(m, pick) {
				pick = m
			}
		}
	}
	if pick == nil {
		return
	}
	r.hostID = pick.id
	r.broadcast(protocol.TypeHostChanged, protocol.HostChangedPayload{ParticipantID: pick.id}, nil)
	r.logger.Info("host promoted", slog.String("participant", pick.id))
}

// expireStale synthesizes a leave for participants whose connection has been
// gone longer than the presence timeout.
func (r *Room) expireStale(now time.Time) {
	var gone []string
	for pid, m := range r.members {
		if m.conn == nil && now.Sub(m.lastSeen) > r.cfg.PresenceTimeout {
			m.state = protocol.StateDisconnected
			gone = append(gone, pid)
		}
	}
	sort.Strings(gone)
	for _, pid := range gone {
		r.removeMember(pid, "presence timeout")
	}
}

// broadcast fans an event out to every attached connection except the given
// one. Sends never block: a full queue disconnects that connection only.
func (r *Room) broadcast(msgType string, payload any, except *Conn) {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		r.logger.Error("encode broadcast", slog.String("type", msgType), slog.Any("error", err))
		return
	}
	for _, m := range r.members {
		if m.conn == nil || m.conn == except {
			continue
		}
		select {
		case m.conn.events <- env:
		case <-m.conn.done:
		default:
			r.metrics.BroadcastsDropped.Inc()
			r.logger.Warn("outbound queue overflow", slog.String("participant", m.id))
			r.dropConn(m)
		}
	}
}

// dropConn releases a member's connection without removing the seat.
func (r *Room) dropConn(m *member) {
	if m.conn == nil {
		return
	}
	m.conn.shutdown()
	m.conn = nil
	if m.state == protocol.StateConnected {
		m.state = protocol.StateReconnecting
		m.lastSeen = time.Now()
	}
}

func (r *Room) destroy() {
	for _, m := range r.members {
		r.dropConn(m)
		r.metrics.ParticipantsActive.Dec()
	}
	r.members = map[string]*member{}
	close(r.done)
	if r.onDestroy != nil {
		r.onDestroy(r)
	}
	r.logger.Info("room destroyed")
}

// attach submits a join to the room loop. The second return is false when
// the room was destroyed before the join could be processed.
func (r *Room) attach(join protocol.JoinPayload) (attachResult, bool) {
	cmd := command{kind: cmdAttach, join: join, attachReply: make(chan attachResult, 1)}
	select {
	case r.commands <- cmd:
	case <-r.done:
		return attachResult{}, false
	}
	select {
	case res := <-cmd.attachReply:
		return res, true
	case <-r.done:
		return attachResult{}, false
	}
}

func (r *Room) info() (Info, bool) {
	cmd := command{kind: cmdInfo, infoReply: make(chan Info, 1)}
	select {
	case r.commands <- cmd:
	case <-r.done:
		return Info{}, false
	}
	select {
	case in := <-cmd.infoReply:
		return in, true
	case <-r.done:
		return Info{}, false
	}
}

func (r *Room) detach(participantID string) {
	cmd := command{kind: cmdLeave, participantID: participantID, reply: make(chan error, 1)}
	select {
	case r.commands <- cmd:
	case <-r.done:
		return
	}
	select {
	case <-cmd.reply:
	case <-r.done:
	}
}

func (r *Room) stop() {
	select {
	case r.commands <- command{kind: cmdStop}:
	case <-r.done:
	}
}
