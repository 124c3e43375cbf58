package room

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"watchparty/internal/metrics"
	"watchparty/protocol"
)

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := NewRegistry(cfg, logger, metrics.New(prometheus.NewRegistry()))
	t.Cleanup(g.Close)
	return g
}

func attach(t *testing.T, g *Registry, roomID string, join protocol.JoinPayload) (*Conn, protocol.RoomStatePayload) {
	t.Helper()
	c, state, err := g.Attach(roomID, join)
	if err != nil {
		t.Fatalf("attach %q to %s: %v", join.ParticipantID, roomID, err)
	}
	return c, state
}

func waitFor(t *testing.T, c *Conn, msgType string) protocol.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-c.Events():
			if env.Type == msgType {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", msgType)
		}
	}
}

func TestAttachUnknownRoomWithoutHostIntent(t *testing.T) {
	g := newTestRegistry(t, Config{})

	_, _, err := g.Attach("NOSUCH", protocol.JoinPayload{DisplayName: "x"})
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestAttachAsHostCreatesRoom(t *testing.T) {
	g := newTestRegistry(t, Config{})

	c, state := attach(t, g, "abc123", protocol.JoinPayload{DisplayName: "alice", WantsHost: true})
	defer c.Close()

	if state.RoomID != "ABC123" {
		t.Fatalf("room id = %q, want normalized ABC123", state.RoomID)
	}
	if state.HostID != state.SelfID {
		t.Fatalf("creator is not host: hostId=%q selfId=%q", state.HostID, state.SelfID)
	}
	if _, ok := g.Lookup("ABC123"); !ok {
		t.Fatal("created room not found by lookup")
	}
}

func TestSecondHostIntentJoinsAsFollower(t *testing.T) {
	g := newTestRegistry(t, Config{})

	host, _ := attach(t, g, "R00M01", protocol.JoinPayload{ParticipantID: "A", WantsHost: true})
	defer host.Close()
	_, state := attach(t, g, "R00M01", protocol.JoinPayload{ParticipantID: "B", WantsHost: true})

	if state.HostID != "A" {
		t.Fatalf("host = %q, want A to keep hosting", state.HostID)
	}
	hosts := 0
	for _, p := range state.Participants {
		if p.IsHost {
			hosts++
		}
	}
	if hosts != 1 {
		t.Fatalf("got %d hosts, want exactly 1", hosts)
	}
}

func TestHostPromotionPicksEarliestJoined(t *testing.T) {
	g := newTestRegistry(t, Config{})

	cc, _ := attach(t, g, "PROMO1", protocol.JoinPayload{ParticipantID: "C", WantsHost: true})
	ca, _ := attach(t, g, "PROMO1", protocol.JoinPayload{ParticipantID: "A"})
	cb, _ := attach(t, g, "PROMO1", protocol.JoinPayload{ParticipantID: "B"})
	defer ca.Close()
	defer cb.Close()

	// A non-host leaving must not move host authority.
	cb.Leave()
	waitFor(t, ca, protocol.TypeParticipantLeft)
	if info, _ := g.Lookup("PROMO1"); info.HostID != "C" {
		t.Fatalf("host = %q after follower left, want C", info.HostID)
	}

	// The host leaving promotes the earliest-joined remaining participant.
	cc.Leave()
	env := waitFor(t, ca, protocol.TypeHostChanged)
	var payload protocol.HostChangedPayload
	if err := env.Decode(&payload); err != nil {
		t.Fatalf("decode hostChanged: %v", err)
	}
	if payload.ParticipantID != "A" {
		t.Fatalf("promoted %q, want A (earliest remaining)", payload.ParticipantID)
	}
}

func TestChatOrderingIdenticalForAllParticipants(t *testing.T) {
	g := newTestRegistry(t, Config{})

	ca, _ := attach(t, g, "CHAT01", protocol.JoinPayload{ParticipantID: "A", WantsHost: true})
	cb, _ := attach(t, g, "CHAT01", protocol.JoinPayload{ParticipantID: "B"})
	defer ca.Close()
	defer cb.Close()

	if err := ca.Chat("one"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if err := cb.Chat("two"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if err := ca.Chat("three"); err != nil {
		t.Fatalf("chat: %v", err)
	}

	read := func(c *Conn) []protocol.ChatMessage {
		var msgs []protocol.ChatMessage
		for len(msgs) < 3 {
			env := waitFor(t, c, protocol.TypeChatPosted)
			var p protocol.ChatPostedPayload
			if err := env.Decode(&p); err != nil {
				t.Fatalf("decode chatPosted: %v", err)
			}
			msgs = append(msgs, p.Message)
		}
		return msgs
	}

	seenA, seenB := read(ca), read(cb)
	for i := range seenA {
		if seenA[i].ID != seenB[i].ID || seenA[i].Text != seenB[i].Text {
			t.Fatalf("order diverged at %d: A=%+v B=%+v", i, seenA[i], seenB[i])
		}
		if i > 0 && seenA[i].ID <= seenA[i-1].ID {
			t.Fatalf("chat ids not monotonic: %d after %d", seenA[i].ID, seenA[i-1].ID)
		}
	}
	if seenA[0].Text != "one" || seenA[1].Text != "two" || seenA[2].Text != "three" {
		t.Fatalf("unexpected order: %+v", seenA)
	}
}

func TestChatValidationDoesNotStallRoom(t *testing.T) {
	g := newTestRegistry(t, Config{ChatMaxLength: 10})

	c, _ := attach(t, g, "CHAT02", protocol.JoinPayload{ParticipantID: "A", WantsHost: true})
	defer c.Close()

	if err := c.Chat("   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank chat err = %v, want ErrInvalidInput", err)
	}
	if err := c.Chat("this one is far too long"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("oversized chat err = %v, want ErrInvalidInput", err)
	}
	// The room keeps processing after rejected events.
	if err := c.Chat("ok"); err != nil {
		t.Fatalf("valid chat after rejects: %v", err)
	}
	env := waitFor(t, c, protocol.TypeChatPosted)
	var p protocol.ChatPostedPayload
	if err := env.Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Message.ID != 1 || p.Message.Text != "ok" {
		t.Fatalf("message = %+v, want id 1 text ok (rejects must not allocate ids)", p.Message)
	}
}

func TestPlaybackRequiresHost(t *testing.T) {
	g := newTestRegistry(t, Config{})

	host, _ := attach(t, g, "AUTH01", protocol.JoinPayload{ParticipantID: "A", WantsHost: true})
	follower, _ := attach(t, g, "AUTH01", protocol.JoinPayload{ParticipantID: "B"})
	defer host.Close()
	defer follower.Close()

	if err := follower.Playback(true, 30); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("follower playback err = %v, want ErrNotAuthorized", err)
	}
	if err := follower.SetSource("https://youtu.be/abc"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("follower setSource err = %v, want ErrNotAuthorized", err)
	}
	if err := follower.Seek(5); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("follower seek err = %v, want ErrNotAuthorized", err)
	}

	// The snapshot is untouched by rejected commands.
	_, state := attach(t, g, "AUTH01", protocol.JoinPayload{ParticipantID: "C"})
	if state.Playback.IsPlaying || state.Playback.PositionSeconds != 0 || state.Playback.UpdatedBy != "" {
		t.Fatalf("snapshot changed by unauthorized command: %+v", state.Playback)
	}
}

func TestSetSourceClassifiesAndResets(t *testing.T) {
	g := newTestRegistry(t, Config{})

	host, _ := attach(t, g, "SRC001", protocol.JoinPayload{ParticipantID: "A", WantsHost: true})
	follower, _ := attach(t, g, "SRC001", protocol.JoinPayload{ParticipantID: "B"})
	defer host.Close()
	defer follower.Close()

	if err := host.Playback(true, 120); err != nil {
		t.Fatalf("playback: %v", err)
	}
	if err := host.SetSource("https://youtu.be/abc123"); err != nil {
		t.Fatalf("setSource: %v", err)
	}

	env := waitFor(t, follower, protocol.TypeSourceChanged)
	var p protocol.PlaybackUpdatedPayload
	if err := env.Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Playback.SourceKind != "youtube" || p.Playback.VideoID != "abc123" {
		t.Fatalf("classified as %q/%q, want youtube/abc123", p.Playback.SourceKind, p.Playback.VideoID)
	}
	if p.Playback.IsPlaying || p.Playback.PositionSeconds != 0 {
		t.Fatalf("source change must reset playback, got %+v", p.Playback)
	}
	if p.Playback.UpdatedBy != "A" {
		t.Fatalf("updatedBy = %q, want A", p.Playback.UpdatedBy)
	}
}

func TestSeekKeepsPlayState(t *testing.T) {
	g := newTestRegistry(t, Config{})

	host, _ := attach(t, g, "SEEK01", protocol.JoinPayload{ParticipantID: "A", WantsHost: true})
	follower, _ := attach(t, g, "SEEK01", protocol.JoinPayload{ParticipantID: "B"})
	defer host.Close()
	defer follower.Close()

	if err := host.Playback(true, 10); err != nil {
		t.Fatalf("playback: %v", err)
	}
	waitFor(t, follower, protocol.TypePlaybackUpdated)

	if err := host.Seek(42); err != nil {
		t.Fatalf("seek: %v", err)
	}
	env := waitFor(t, follower, protocol.TypePlaybackUpdated)
	var p protocol.PlaybackUpdatedPayload
	if err := env.Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !p.Playback.IsPlaying {
		t.Fatal("seek flipped isPlaying")
	}
	if p.Playback.PositionSeconds != 42 {
		t.Fatalf("position = %v, want 42", p.Playback.PositionSeconds)
	}
}

func TestDetachIsIdempotent(t *testing.T) {
	g := newTestRegistry(t, Config{})

	host, _ := attach(t, g, "IDEM01", protocol.JoinPayload{ParticipantID: "A", WantsHost: true})
	follower, _ := attach(t, g, "IDEM01", protocol.JoinPayload{ParticipantID: "B"})
	defer host.Close()
	defer follower.Close()

	g.Detach("IDEM01", "B")
	g.Detach("IDEM01", "B")
	g.Detach("IDEM01", "never-joined")
	g.Detach("NOROOM", "B")

	if info, ok := g.Lookup("IDEM01"); !ok || info.Participants != 1 {
		t.Fatalf("room info = %+v, want 1 participant", info)
	}
}

func TestChatTailReplayedOnRejoin(t *testing.T) {
	g := newTestRegistry(t, Config{ChatHistory: 2})

	host, _ := attach(t, g, "TAIL01", protocol.JoinPayload{ParticipantID: "A", WantsHost: true})
	defer host.Close()
	for _, text := range []string{"first", "second", "third"} {
		if err := host.Chat(text); err != nil {
			t.Fatalf("chat: %v", err)
		}
	}

	_, state := attach(t, g, "TAIL01", protocol.JoinPayload{ParticipantID: "B"})
	if len(state.Chat) != 2 {
		t.Fatalf("replayed %d messages, want retention of 2", len(state.Chat))
	}
	if state.Chat[0].Text != "second" || state.Chat[1].Text != "third" {
		t.Fatalf("retained tail out of order: %+v", state.Chat)
	}
	if state.Chat[0].ID >= state.Chat[1].ID {
		t.Fatalf("tail ids not increasing: %+v", state.Chat)
	}
}

func TestRoomDrainsAfterGraceWindow(t *testing.T) {
	g := newTestRegistry(t, Config{GraceWindow: 30 * time.Millisecond})

	host, _ := attach(t, g, "DRAIN1", protocol.JoinPayload{ParticipantID: "A", WantsHost: true})
	host.Leave()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := g.Lookup("DRAIN1"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("room still alive after grace window")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, _, err := g.Attach("DRAIN1", protocol.JoinPayload{ParticipantID: "B"}); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("attach to drained room err = %v, want ErrRoomNotFound", err)
	}

	// Host intent recreates the room from scratch.
	c, state := attach(t, g, "DRAIN1", protocol.JoinPayload{ParticipantID: "B", WantsHost: true})
	defer c.Close()
	if state.HostID != "B" || len(state.Chat) != 0 {
		t.Fatalf("recreated room carried old state: %+v", state)
	}
}

func TestRejoinDuringGraceKeepsRoomState(t *testing.T) {
	g := newTestRegistry(t, Config{GraceWindow: time.Second})

	host, _ := attach(t, g, "DRAIN2", protocol.JoinPayload{ParticipantID: "A", WantsHost: true})
	if err := host.Chat("still here"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	host.Leave()

	c, state := attach(t, g, "DRAIN2", protocol.JoinPayload{ParticipantID: "A", WantsHost: true})
	defer c.Close()
	if len(state.Chat) != 1 || state.Chat[0].Text != "still here" {
		t.Fatalf("rejoin within grace lost chat tail: %+v", state.Chat)
	}
}

func TestPresenceTimeoutSynthesizesLeaveAndPromotes(t *testing.T) {
	g := newTestRegistry(t, Config{
		PresenceTimeout:  40 * time.Millisecond,
		PresenceInterval: 10 * time.Millisecond,
	})

	host, _ := attach(t, g, "PRES01", protocol.JoinPayload{ParticipantID: "A", WantsHost: true})
	follower, _ := attach(t, g, "PRES01", protocol.JoinPayload{ParticipantID: "B"})
	defer follower.Close()

	// Transport drop, no explicit leave.
	host.Close()

	env := waitFor(t, follower, protocol.TypeParticipantLeft)
	var left protocol.ParticipantLeftPayload
	if err := env.Decode(&left); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if left.ParticipantID != "A" {
		t.Fatalf("synthesized leave for %q, want A", left.ParticipantID)
	}

	env = waitFor(t, follower, protocol.TypeHostChanged)
	var promoted protocol.HostChangedPayload
	if err := env.Decode(&promoted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if promoted.ParticipantID != "B" {
		t.Fatalf("promoted %q, want B", promoted.ParticipantID)
	}
}

func TestReconnectBeforeTimeoutKeepsSeatAndHost(t *testing.T) {
	g := newTestRegistry(t, Config{
		PresenceTimeout:  300 * time.Millisecond,
		PresenceInterval: 20 * time.Millisecond,
	})

	host, _ := attach(t, g, "PRES02", protocol.JoinPayload{ParticipantID: "A", WantsHost: true})
	follower, _ := attach(t, g, "PRES02", protocol.JoinPayload{ParticipantID: "B"})
	defer follower.Close()

	host.Close()
	again, state := attach(t, g, "PRES02", protocol.JoinPayload{ParticipantID: "A", WantsHost: true})
	defer again.Close()

	if state.SelfID != "A" || state.HostID != "A" {
		t.Fatalf("reconnect lost seat or host: self=%q host=%q", state.SelfID, state.HostID)
	}

	// No leave may be synthesized for the reconnected host.
	timer := time.After(400 * time.Millisecond)
	for {
		select {
		case env := <-follower.Events():
			if env.Type == protocol.TypeParticipantLeft {
				t.Fatal("leave synthesized despite reconnect")
			}
		case <-timer:
			return
		}
	}
}

func TestSlowConnectionIsDroppedNotTheRoom(t *testing.T) {
	g := newTestRegistry(t, Config{SendQueue: 1})

	host, _ := attach(t, g, "SLOW01", protocol.JoinPayload{ParticipantID: "A", WantsHost: true})
	slow, _ := attach(t, g, "SLOW01", protocol.JoinPayload{ParticipantID: "B"})
	defer host.Close()
	waitFor(t, host, protocol.TypeParticipantJoined)

	// B never drains its queue; a burst must overflow it. The host keeps
	// reading, so only the slow connection is affected.
	for i := 0; i < 5; i++ {
		if err := host.Chat("spam"); err != nil {
			t.Fatalf("chat %d: %v", i, err)
		}
		waitFor(t, host, protocol.TypeChatPosted)
	}

	select {
	case <-slow.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow connection was not dropped")
	}

	if info, ok := g.Lookup("SLOW01"); !ok || info.Participants != 2 {
		t.Fatalf("room info = %+v, want both seats retained", info)
	}
}

func TestCreateRoomIDFormat(t *testing.T) {
	g := newTestRegistry(t, Config{})

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		id, err := g.CreateRoom()
		if err != nil {
			t.Fatalf("create room: %v", err)
		}
		if len(id) != 6 {
			t.Fatalf("id %q length = %d, want 6", id, len(id))
		}
		for _, ch := range id {
			if !(ch >= 'A' && ch <= 'Z') && !(ch >= '0' && ch <= '9') {
				t.Fatalf("id %q contains %q outside [A-Z0-9]", id, ch)
			}
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
		if _, ok := g.Lookup(id); !ok {
			t.Fatalf("created room %q not found", id)
		}
	}
}
