// Package main implements ragctl, a CLI for the ragd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// client talks to one ragd server.
type client struct {
	baseURL string
	http    *http.Client
}

func newRootCmd() *cobra.Command {
	c := &client{}
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "ragctl",
		Short: "CLI for the ragd knowledge base server",
		Long: `ragctl talks to a running ragd server. It can ask questions, upload
PDF documents into the knowledge base, follow background ingestions and run
the built-in commands.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(*cobra.Command, []string) {
			c.baseURL = strings.TrimRight(c.baseURL, "/")
			c.http = &http.Client{Timeout: timeout}
		},
	}
	root.PersistentFlags().StringVar(&c.baseURL, "server", "http://localhost:8080", "ragd server URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "request timeout")

	root.AddCommand(
		newChatCmd(c),
		newHistoryCmd(c),
		newIngestCmd(c),
		newStatusCmd(c),
		newCommandCmd(c),
		newHealthCmd(c),
	)
	return root
}

// do sends req and decodes a JSON response into out when out is non-nil.
// Non-2xx responses become errors carrying the response body.
func (c *client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, errorMessage(body))
	}
	if out == nil {
		return nil
	}
	if s, ok := out.(*string); ok {
		*s = string(body)
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage extracts echo's {"message": ...} error body, falling back to
// the raw text.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(body))
}

func (c *client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *client) postJSON(path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}
