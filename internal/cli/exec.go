package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/shellpane/shellpane/internal/client"
	"github.com/shellpane/shellpane/pkg/types"
)

func newExecCmd() *cobra.Command {
	var (
		sessionID string
		isInput   bool
		blocking  bool
		timeout   string
		workDir   string
		envKV     []string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "exec [flags] -- COMMAND...",
		Short: "Execute a command (in a session with --session, else as a one-shot subprocess)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			if command == "" && sessionID == "" {
				return fmt.Errorf("command is required (or --session to poll a running one)")
			}

			env, err := parseEnv(envKV)
			if err != nil {
				return err
			}

			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			res, err := c.Execute(cmd.Context(), types.ExecRequest{
				Command:    command,
				SessionID:  sessionID,
				IsInput:    isInput,
				Blocking:   blocking,
				Timeout:    strings.TrimSpace(timeout),
				Env:        env,
				WorkingDir: workDir,
			})
			if err != nil {
				return err
			}

			if asJSON {
				if err := printJSON(cmd, res); err != nil {
					return err
				}
			} else {
				renderResult(cmd, res)
			}
			if res.ReturnCode != 0 {
				return &ExitError{code: exitCode(res.ReturnCode)}
			}
			return nil
		},
		DisableFlagsInUseLine: true,
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID (empty runs a one-shot subprocess)")
	cmd.Flags().BoolVar(&isInput, "input", false, "Send COMMAND as input to the running command (supports C-c, C-d, C-z)")
	cmd.Flags().BoolVar(&blocking, "blocking", false, "Wait for completion, disabling the no-change timeout")
	cmd.Flags().StringVar(&timeout, "timeout", "", "Hard timeout (e.g. 30s, 5m, or bare seconds)")
	cmd.Flags().StringVar(&workDir, "dir", "", "Working directory for the session or subprocess")
	cmd.Flags().StringArrayVar(&envKV, "env", nil, "Environment entry KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	return cmd
}

// renderResult writes the result the way an agent harness consumes it: the
// session-tagged observation for clean session output, the full block form
// for errors and timeouts. On a tty the error text goes to stderr instead.
func renderResult(cmd *cobra.Command, res types.CommandResult) {
	if res.IsSuccess() && res.ErrorMessage == "" {
		if res.SessionID != "" {
			fmt.Fprint(cmd.OutOrStdout(), res.AgentObservation())
		} else {
			fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
		}
		if res.Stderr != "" {
			fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
		}
		return
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
		if res.Stderr != "" {
			fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
		}
		if res.ErrorMessage != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), res.ErrorMessage)
		}
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.FormatOutput())
}

// exitCode maps the -1 timeout sentinel to a conventional shell code.
func exitCode(rc int) int {
	if rc < 0 {
		return 124
	}
	return rc
}

func parseEnv(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env entry %q, want KEY=VALUE", kv)
		}
		env[k] = v
	}
	return env, nil
}
