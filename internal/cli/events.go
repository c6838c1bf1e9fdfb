package cli

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/shellpane/shellpane/internal/client"
	"github.com/shellpane/shellpane/pkg/types"
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Watch session events",
	}
	cmd.AddCommand(newEventsTailCmd())
	return cmd
}

func newEventsTailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tail SESSION_ID",
		Short: "Tail live events for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			conn, err := client.New(cfg.serverAddr, cfg.apiKey).DialEvents(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer conn.Close()

			go func() {
				<-cmd.Context().Done()
				_ = conn.Close()
			}()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				var ev types.Event
				if err := conn.ReadJSON(&ev); err != nil {
					if cmd.Context().Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						return nil
					}
					return fmt.Errorf("event stream: %w", err)
				}
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
		},
	}
}
