package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/voyager-travel/voyager"
	"github.com/voyager-travel/voyager/pkg/session"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var (
		sessionID string
		userID    string
		stream    bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			assistant, err := voyager.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer assistant.Close()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			fmt.Printf("session %s (type 'q' to quit)\n", sessionID)

			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)

			var turnOpts []session.TurnOption
			if userID != "" {
				turnOpts = append(turnOpts, session.WithUser(userID))
			}

			for {
				input, err := line.Prompt("you> ")
				if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				input = strings.TrimSpace(input)
				if input == "" {
					continue
				}
				if input == "q" || input == "quit" {
					return nil
				}
				line.AppendHistory(input)

				if stream {
					err = streamTurn(ctx, assistant, input, sessionID, turnOpts)
				} else {
					err = blockingTurn(ctx, assistant, input, sessionID, turnOpts)
				}
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					fmt.Printf("error: %v\n", err)
				}
			}
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID to resume (default: new session)")
	cmd.Flags().StringVar(&userID, "user", "", "user ID for authenticated sessions")
	cmd.Flags().BoolVar(&stream, "stream", true, "stream the response as it is generated")
	return cmd
}

func blockingTurn(ctx context.Context, assistant *voyager.Assistant, input, sessionID string, opts []session.TurnOption) error {
	reply, err := assistant.FullResponse(ctx, input, sessionID, opts...)
	if err != nil {
		return err
	}
	fmt.Printf("voyager> %s\n", reply)
	return nil
}

func streamTurn(ctx context.Context, assistant *voyager.Assistant, input, sessionID string, opts []session.TurnOption) error {
	rs, err := assistant.StreamResponse(ctx, input, sessionID, opts...)
	if err != nil {
		return err
	}

	fmt.Print("voyager> ")
	for {
		text, err := rs.Recv()
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if err != nil {
			fmt.Println()
			return err
		}
		fmt.Print(text)
	}
}
