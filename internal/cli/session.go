package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shellpane/shellpane/internal/client"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions",
	}
	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionRmCmd())
	cmd.AddCommand(newSessionClearCmd())
	cmd.AddCommand(newSessionSweepCmd())
	cmd.AddCommand(newSessionHistoryCmd())
	return cmd
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			infos, err := client.New(cfg.serverAddr, cfg.apiKey).ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, infos)
		},
	}
}

func newSessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show SESSION_ID",
		Short: "Show one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			info, err := client.New(cfg.serverAddr, cfg.apiKey).GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, info)
		},
	}
}

func newSessionRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm SESSION_ID",
		Short: "Close and remove a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			if err := client.New(cfg.serverAddr, cfg.apiKey).RemoveSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newSessionClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Close and remove every session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			n, err := client.New(cfg.serverAddr, cfg.apiKey).ClearSessions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d sessions\n", n)
			return nil
		},
	}
}

func newSessionSweepCmd() *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove sessions idle longer than --max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			n, err := client.New(cfg.serverAddr, cfg.apiKey).CleanupSessions(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d sessions\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Idle age threshold (0 uses the server default)")
	return cmd
}

func newSessionHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history SESSION_ID",
		Short: "Show recorded command history for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			entries, err := client.New(cfg.serverAddr, cfg.apiKey).History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Max entries (0 uses the server default)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
