// urbixctl drives a running urbix server from the terminal: start a device
// login, type the OTP when the portal asks for it, inspect attempts and sessions.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ternarybob/urbix/internal/common"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:    "urbixctl",
		Usage:   "Control device logins on an urbix server",
		Version: common.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "urbix server base URL",
				Value:   "http://localhost:8085",
				Sources: cli.EnvVars("URBIXCTL_SERVER"),
			},
		},
		Commands: []*cli.Command{
			loginCommand,
			otpCommand,
			attemptCommand,
			deviceCommand,
			logoutCommand,
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "urbixctl: %v\n", err)
		os.Exit(1)
	}
}
