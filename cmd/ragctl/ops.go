package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragd/internal/commands"
	ragdhttp "github.com/fyrsmithlabs/ragd/internal/http"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/operations"
)

func newStatusCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "status <operation-id>",
		Short: "Show a background ingestion's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var op operations.Operation
			if err := c.getJSON("/api/operations/"+url.PathEscape(args[0]), &op); err != nil {
				return err
			}
			printOperation(cmd.OutOrStdout(), op)
			return nil
		},
	}
}

func printOperation(w io.Writer, op operations.Operation) {
	fmt.Fprintf(w, "Operation: %s\n", op.ID)
	fmt.Fprintf(w, "Kind:      %s\n", op.Kind)
	fmt.Fprintf(w, "Status:    %s\n", op.Status)
	if op.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", op.Error)
	}
	if op.Result != nil {
		b, _ := json.Marshal(op.Result)
		fmt.Fprintf(w, "Result:    %s\n", b)
	}
}

func newCommandCmd(c *client) *cobra.Command {
	var rawArgs []string
	cmd := &cobra.Command{
		Use:   "command [name]",
		Short: "List or run built-in commands",
		Long: `Without a name, list the server's commands and their parameters.
With a name, run it. Arguments are passed as --arg key=value.

Examples:
  ragctl command
  ragctl command licensed_periods
  ragctl command calculate_car_fbt --arg car_value=50000 --arg days_available=365`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				var list ragdhttp.CommandList
				if err := c.getJSON("/api/commands", &list); err != nil {
					return err
				}
				for _, h := range list.Commands {
					fmt.Fprintf(out, "%s: %s\n", h.Name, h.Description)
					for _, p := range h.Params {
						req := ""
						if p.Required {
							req = ", required"
						}
						fmt.Fprintf(out, "    %s (%s%s): %s\n", p.Name, p.Type, req, p.Description)
					}
				}
				return nil
			}

			cargs, err := parseArgs(rawArgs)
			if err != nil {
				return err
			}
			var resp ragdhttp.CommandResponse
			if err := c.postJSON("/api/commands/"+url.PathEscape(args[0]), cargs, &resp); err != nil {
				return err
			}
			fmt.Fprintln(out, resp.Result)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&rawArgs, "arg", "a", nil, "command argument as key=value (repeatable)")
	return cmd
}

// parseArgs turns key=value pairs into command arguments. Values stay
// strings; the server converts them to the declared parameter types.
func parseArgs(pairs []string) (commands.Args, error) {
	args := make(commands.Args, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("argument %q must be key=value", p)
		}
		args[strings.TrimSpace(k)] = v
	}
	return args, nil
}

func newHealthCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check ragd server health and readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			var health ragdhttp.HealthResponse
			if err := c.getJSON("/health", &health); err != nil {
				return err
			}
			fmt.Fprintf(out, "Server Status: %s\n", health.Status)
			fmt.Fprintf(out, "Server URL: %s\n", c.baseURL)

			var ready ragdhttp.HealthResponse
			if err := c.getJSON("/ready", &ready); err != nil {
				return fmt.Errorf("server is not ready: %w", err)
			}
			fmt.Fprintf(out, "Readiness: %s\n", ready.Status)
			return nil
		},
	}
}

// defaultUser is $USER when it is a valid conversation ID, else "cli".
func defaultUser() string {
	if u := os.Getenv("USER"); logging.ValidateID(u, "user") == nil {
		return u
	}
	return "cli"
}
