package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lmikhailov/coderoom/internal/domain"
	"github.com/lmikhailov/coderoom/internal/session"
	"github.com/lmikhailov/coderoom/internal/session/rtc"
)

var flagSTUN []string

var joinCmd = &cobra.Command{
	Use:   "join <roomId>",
	Short: "Join a room interactively",
	Long: `Join a room: the shared buffer and execution output stream to stdout,
and a media link is negotiated with every other participant.

Input lines starting with "/" are commands, anything else replaces the
shared buffer:

  /lang <javascript|c|cpp|python|java>   switch the run target
  /load <path>                           load a file into the buffer
  /run                                   execute the buffer
  /members                               list participants
  /video, /audio                         toggle local tracks
  /quit                                  leave the room`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := authedClient()
		if err != nil {
			return err
		}
		roomID := domain.RoomID(args[0])

		user, err := userFromToken(flagToken)
		if err != nil {
			return err
		}

		// join precondition: the room record must exist
		if _, err := api.GetRoom(cmd.Context(), roomID); err != nil {
			return err
		}

		wsURL := strings.Replace(flagServer, "http", "ws", 1)
		transport := session.NewWSTransport(wsURL, roomID, flagToken, &log.Logger)
		engine := rtc.NewEngine(flagSTUN, &log.Logger)

		out := cmd.OutOrStdout()
		done := make(chan error, 1)

		var sess *session.Session
		sess = session.New(session.Config{
			RoomID:    roomID,
			User:      user,
			Transport: transport,
			Engine:    engine,
			Logger:    &log.Logger,
			Events: session.Events{
				OnMembers: func(members []domain.Participant) {
					names := make([]string, 0, len(members))
					for _, m := range members {
						names = append(names, m.Email)
					}
					fmt.Fprintf(out, "-- members: %s\n", strings.Join(names, ", "))
				},
				OnCode: func(code string) {
					fmt.Fprintf(out, "-- buffer:\n%s\n", code)
				},
				OnLanguage: func(lang domain.Language) {
					fmt.Fprintf(out, "-- language: %s\n", lang)
				},
				OnOutput: func(output string) {
					fmt.Fprintf(out, "-- output:\n%s\n", output)
				},
				OnPeerConnected: func(id domain.ConnectionID) {
					fmt.Fprintf(out, "-- media link up: %s\n", id)
					// hooks run on the session loop, re-entry must be async
					go sess.RegisterSink(id, discardSink{})
				},
				OnMediaState: func(id domain.ConnectionID, st domain.MediaState) {
					fmt.Fprintf(out, "-- %s video=%t audio=%t\n", id, st.VideoOn, st.AudioOn)
				},
				OnRoomDeleted: func() {
					fmt.Fprintln(out, "-- room deleted by creator")
				},
				OnDone: func(err error) {
					done <- err
				},
			},
		})

		if err := sess.Start(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(out, "joined %s as connection %s\n", roomID, sess.ConnectionID())

		go readInput(sess, out)

		err = <-done
		if err != nil {
			return err
		}
		return nil
	},
}

func readInput(sess *session.Session, out io.Writer) {
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			sess.EditBuffer(line)
			continue
		}
		cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
		switch cmd {
		case "run":
			sess.RunCode()
		case "lang":
			lang, err := domain.ParseLanguage(arg)
			if err != nil {
				fmt.Fprintf(out, "!! %v\n", err)
				continue
			}
			sess.SetLanguage(lang)
		case "load":
			data, err := os.ReadFile(arg)
			if err != nil {
				fmt.Fprintf(out, "!! %v\n", err)
				continue
			}
			sess.EditBuffer(string(data))
		case "members":
			for _, m := range sess.Members() {
				fmt.Fprintf(out, "  %s (%s)\n", m.Email, m.ConnectionID)
			}
		case "video":
			sess.ToggleVideo()
		case "audio":
			sess.ToggleAudio()
		case "quit":
			sess.Leave()
			return
		default:
			fmt.Fprintf(out, "!! unknown command /%s\n", cmd)
		}
	}
	// stdin closed, leave cleanly
	sess.Leave()
}

// userFromToken reads the identity claims out of the token without
// verifying the signature; the server verifies on every request, the
// client only needs to know who it is.
func userFromToken(token string) (domain.User, error) {
	var claims struct {
		UserID string `json:"user_id"`
		Email  string `json:"email"`
		jwt.RegisteredClaims
	}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return domain.User{}, fmt.Errorf("malformed token: %w", err)
	}
	return domain.User{ID: domain.UserID(claims.UserID), Email: claims.Email}, nil
}

// discardSink accepts remote streams without rendering them; a headless
// client still completes negotiation so browsers in the room see it.
type discardSink struct{}

func (discardSink) Attach(session.RemoteStream) error { return nil }

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringSliceVar(&flagSTUN, "stun", nil, "STUN server URLs")
}
