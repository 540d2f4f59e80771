package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-rental-sync/push"
	"github.com/c0deZ3R0/go-rental-sync/transport/sse"
)

func newWatchCmd() *cobra.Command {
	var (
		server string
		scopes []string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print push events from a running rentald",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			topics := make([]string, 0, len(scopes))
			for _, s := range scopes {
				topics = append(topics, push.ScopeTopic(s))
			}
			out := cmd.OutOrStdout()
			err := sse.NewClient(server+"/api/realtime/sse", nil).Subscribe(ctx, topics, func(ev sse.Event) error {
				_, err := fmt.Fprintf(out, "%s %s\n", ev.Name, ev.Data)
				return err
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "rentald base URL")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "city scopes to join besides the global topic")
	return cmd
}
