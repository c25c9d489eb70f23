package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/pandemonium/plugin/ai/orchestrator"
	"github.com/hrygo/pandemonium/server"
	"github.com/hrygo/pandemonium/server/stream"
)

func newChatCmd(cfg *config) *cobra.Command {
	var sessionID string
	var personaIDs []string
	var owner string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "chat [flags] <message>",
		Short: "Send one message to a session and print the round",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" && len(personaIDs) == 0 {
				return errors.New("either --session or --personas is required")
			}
			p, err := cfg.profile()
			if err != nil {
				return err
			}
			logger, closer, err := newLogger(cmd, p)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx := cmd.Context()
			s, err := server.NewServer(ctx, p, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if sessionID == "" {
				sess, err := s.Sessions.Create(ctx, personaIDs, owner, "cli")
				if err != nil {
					return err
				}
				sessionID = sess.ID
				if !asJSON {
					fmt.Fprintf(out, "session %s\n", sessionID)
				}
			}

			round, err := s.Orchestrator.HandleUserMessage(ctx, sessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			for ev := range round.Events() {
				if asJSON {
					err = stream.NDJSON{}.Encode(out, ev)
				} else {
					err = printEvent(out, ev)
				}
				if err != nil {
					round.Detach()
					break
				}
			}
			s.Orchestrator.Wait()
			return err
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "existing session id")
	cmd.Flags().StringSliceVar(&personaIDs, "personas", nil, "persona ids of a new session")
	cmd.Flags().StringVar(&owner, "owner", "cli", "owner id of a new session")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as NDJSON")

	return cmd
}

func printEvent(w io.Writer, ev orchestrator.Event) error {
	var err error
	switch data := ev.Data.(type) {
	case orchestrator.AckPayload:
		_, err = fmt.Fprintf(w, "> %s\n", data.Message.Content)
	case orchestrator.TypingPayload:
		if ev.Type == orchestrator.EventTypingStart {
			_, err = fmt.Fprintf(w, "  %s is typing...\n", data.PersonaID)
		}
	case orchestrator.MessagePayload:
		_, err = fmt.Fprintf(w, "%s [%s]: %s\n", data.PersonaID, data.Mood, data.Message.Content)
	case orchestrator.ErrorPayload:
		_, err = fmt.Fprintf(w, "! %s: %s (%s)\n", data.PersonaID, data.Message, data.Kind)
	case orchestrator.CompletePayload:
		_, err = fmt.Fprintf(w, "-- round complete: %d replied, %d failed\n", data.Succeeded, data.Failed)
	}
	return err
}
