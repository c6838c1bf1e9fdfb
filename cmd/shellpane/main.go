package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shellpane/shellpane/internal/cli"
)

// Set via -ldflags "-X main.version=... -X main.commit=..." at release time.
var (
	version = "dev"
	commit  = ""
)

func buildVersion() string {
	v := strings.TrimSpace(version)
	if v == "" {
		v = "dev"
	}
	c := strings.TrimSpace(commit)
	if c == "" || strings.EqualFold(c, "unknown") || strings.Contains(v, c) {
		return v
	}
	return v + "+" + c
}

func main() {
	root := cli.NewRoot(buildVersion())
	err := root.ExecuteContext(context.Background())
	if err == nil {
		return
	}

	// exec propagates the remote command's return code through ExitError;
	// everything else is a plain failure.
	var ee *cli.ExitError
	if errors.As(err, &ee) {
		if msg := ee.Message(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(ee.Code())
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
