package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	ragdhttp "github.com/fyrsmithlabs/ragd/internal/http"
)

func newChatCmd(c *client) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Ask the knowledge base a question",
		Long: `Send one chat turn. Turns from the same --user continue one conversation.

Examples:
  ragctl chat --user alice "Is my work car subject to FBT?"
  ragctl chat --user alice what about a novated lease`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp ragdhttp.ChatResponse
			err := c.postJSON("/api/chat/send", ragdhttp.ChatRequest{
				Message: strings.Join(args, " "),
				UserID:  userID,
			}, &resp)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Reply)
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser(), "conversation owner")
	return cmd
}

func newHistoryCmd(c *client) *cobra.Command {
	var (
		userID string
		reset  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or reset a user's conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/api/chat/history?user_id=" + url.QueryEscape(userID)
			if reset {
				req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
				if err != nil {
					return fmt.Errorf("failed to create request: %w", err)
				}
				if err := c.do(req, nil); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Conversation for %s reset.\n", userID)
				return nil
			}

			var resp ragdhttp.HistoryResponse
			if err := c.getJSON(path, &resp); err != nil {
				return err
			}
			for _, t := range resp.Turns {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", t.Role, t.Text)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", defaultUser(), "conversation owner")
	cmd.Flags().BoolVar(&reset, "reset", false, "delete the conversation instead of printing it")
	return cmd
}
