package main

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	ragdhttp "github.com/fyrsmithlabs/ragd/internal/http"
	"github.com/fyrsmithlabs/ragd/internal/operations"
)

func newIngestCmd(c *client) *cobra.Command {
	var (
		category string
		async    bool
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ingest <file.pdf>",
		Short: "Upload a PDF into the knowledge base",
		Long: `Upload a PDF. Its text replaces the knowledge base collection.

Examples:
  # Ingest and wait for the result
  ragctl ingest fbt-guide.pdf

  # Ingest in the background and poll until done
  ragctl ingest --async --wait fbt-guide.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := uploadRequest(c.baseURL, args[0], category, async)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !async {
				var msg string
				if err := c.do(req, &msg); err != nil {
					return err
				}
				fmt.Fprintln(out, msg)
				return nil
			}

			var accepted ragdhttp.UploadAccepted
			if err := c.do(req, &accepted); err != nil {
				return err
			}
			fmt.Fprintf(out, "Operation: %s\n", accepted.OperationID)
			if !wait {
				return nil
			}
			op, err := c.waitOperation(cmd, accepted.OperationID, interval)
			if err != nil {
				return err
			}
			printOperation(out, op)
			if op.Status == operations.StatusFailed {
				return fmt.Errorf("ingestion failed: %s", op.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "category stored with every chunk (server default when empty)")
	cmd.Flags().BoolVar(&async, "async", false, "return an operation ID instead of waiting for ingestion")
	cmd.Flags().BoolVar(&wait, "wait", false, "with --async, poll the operation until it finishes")
	cmd.Flags().DurationVar(&interval, "poll-interval", time.Second, "polling interval for --wait")
	return cmd
}

func uploadRequest(baseURL, path, category string, async bool) (*http.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if category != "" {
		if err := mw.WriteField("category", category); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	target := baseURL + "/api/ingestion/upload"
	if async {
		target += "?async=true"
	}
	req, err := http.NewRequest(http.MethodPost, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func (c *client) waitOperation(cmd *cobra.Command, id string, interval time.Duration) (operations.Operation, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		var op operations.Operation
		if err := c.getJSON("/api/operations/"+id, &op); err != nil {
			return op, err
		}
		if op.Status.Terminal() {
			return op, nil
		}
		select {
		case <-cmd.Context().Done():
			return op, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}
