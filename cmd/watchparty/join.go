package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"watchparty/client"
	"watchparty/protocol"
)

var joinAsHost bool

var joinCmd = &cobra.Command{
	Use:   "join <room-code>",
	Short: "Join a room and chat from the terminal",
	Long: `Join a room by its 6-character code. Typed lines are sent as chat.
Host commands: /source <url>, /play [seconds], /pause [seconds], /seek <seconds>, /quit.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := strings.ToUpper(strings.TrimSpace(args[0]))

		tr, err := client.Dial(context.Background(), serverAddress, roomID, client.Options{
			DisplayName: displayName,
			WantsHost:   joinAsHost,
		})
		if err != nil {
			return err
		}
		defer tr.Close()

		go printEvents(tr)

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/quit" {
				return tr.Leave()
			}
			if err := handleLine(tr, line); err != nil {
				fmt.Fprintln(os.Stderr, "!", err)
			}
		}
		return scanner.Err()
	},
}

func handleLine(tr *client.Transport, line string) error {
	if !strings.HasPrefix(line, "/") {
		return tr.Chat(line)
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/source":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /source <url>")
		}
		return tr.SetSource(fields[1])
	case "/play", "/pause":
		pos := 0.0
		if len(fields) > 1 {
			p, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return fmt.Errorf("bad position %q", fields[1])
			}
			pos = p
		}
		return tr.Playback(fields[0] == "/play", pos)
	case "/seek":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /seek <seconds>")
		}
		pos, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("bad position %q", fields[1])
		}
		return tr.Seek(pos)
	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
}

func printEvents(tr *client.Transport) {
	names := map[string]string{}
	for env := range tr.Events() {
		switch env.Type {
		case protocol.TypeRoomState:
			var s protocol.RoomStatePayload
			if env.Decode(&s) != nil {
				continue
			}
			for _, p := range s.Participants {
				names[p.ID] = p.DisplayName
			}
			fmt.Printf("* joined %s (%d watching)\n", s.RoomID, len(s.Participants))
			for _, msg := range s.Chat {
				fmt.Printf("%s: %s\n", names[msg.SenderID], msg.Text)
			}
			if s.Playback.SourceURL != "" {
				fmt.Printf("* now showing %s at %.0fs\n", s.Playback.SourceURL, s.Playback.PositionAt(time.Now()))
			}
		case protocol.TypeParticipantJoined:
			var p protocol.ParticipantJoinedPayload
			if env.Decode(&p) == nil {
				names[p.Participant.ID] = p.Participant.DisplayName
				fmt.Printf("* %s joined\n", p.Participant.DisplayName)
			}
		case protocol.TypeParticipantLeft:
			var p protocol.ParticipantLeftPayload
			if env.Decode(&p) == nil {
				fmt.Printf("* %s left\n", names[p.ParticipantID])
			}
		case protocol.TypeHostChanged:
			var p protocol.HostChangedPayload
			if env.Decode(&p) == nil {
				fmt.Printf("* %s is now the host\n", names[p.ParticipantID])
			}
		case protocol.TypeChatPosted:
			var p protocol.ChatPostedPayload
			if env.Decode(&p) == nil {
				fmt.Printf("%s: %s\n", names[p.Message.SenderID], p.Message.Text)
			}
		case protocol.TypeSourceChanged:
			var p protocol.PlaybackUpdatedPayload
			if env.Decode(&p) == nil {
				fmt.Printf("* source changed to %s (%s)\n", p.Playback.SourceURL, p.Playback.SourceKind)
			}
		case protocol.TypePlaybackUpdated:
			var p protocol.PlaybackUpdatedPayload
			if env.Decode(&p) == nil {
				verb := "paused"
				if p.Playback.IsPlaying {
					verb = "playing"
				}
				fmt.Printf("* %s at %.0fs\n", verb, p.Playback.PositionSeconds)
			}
		case protocol.TypeError:
			var p protocol.ErrorPayload
			if env.Decode(&p) == nil {
				fmt.Fprintf(os.Stderr, "! %s: %s\n", p.Kind, p.Detail)
			}
		}
	}
}

func init() {
	joinCmd.Flags().BoolVar(&joinAsHost, "host", false, "request host authority (creates the room if needed)")
	rootCmd.AddCommand(joinCmd)
}
