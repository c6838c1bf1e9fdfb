package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "shellpane",
		Short:         "shellpane: persistent shell sessions for automated agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("shellpane {{.Version}}\n")

	cmd.PersistentFlags().String("server", getenvDefault("SHELLPANE_SERVER", "http://127.0.0.1:8080"), "shellpane server base URL")
	cmd.PersistentFlags().String("api-key", getenvDefault("SHELLPANE_API_KEY", ""), "API key (sent as X-API-Key)")

	cmd.AddCommand(newServerCmd())
	cmd.AddCommand(newExecCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newEventsCmd())

	return cmd
}

type clientConfig struct {
	serverAddr string
	apiKey     string
}

func getClientConfig(cmd *cobra.Command) *clientConfig {
	serverAddr, _ := cmd.Root().PersistentFlags().GetString("server")
	apiKey, _ := cmd.Root().PersistentFlags().GetString("api-key")
	if serverAddr == "" {
		serverAddr = "http://127.0.0.1:8080"
	}
	return &clientConfig{serverAddr: serverAddr, apiKey: apiKey}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
