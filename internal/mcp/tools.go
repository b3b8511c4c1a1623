package mcp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/commands"
	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

var errInvalidInput = errors.New("invalid input")

type chatInput struct {
	UserID  string `json:"user_id" jsonschema:"Identifier of the user whose conversation continues"`
	Message string `json:"message" jsonschema:"The user's message"`
}

type chatOutput struct {
	Reply   string       `json:"reply" jsonschema:"Assistant reply"`
	Outcome chat.Outcome `json:"outcome" jsonschema:"How the turn ended"`
}

type ingestInput struct {
	Path     string `json:"path" jsonschema:"Path to a PDF file readable by the server"`
	Category string `json:"category,omitempty" jsonschema:"Category stored with every chunk"`
}

type commandOutput struct {
	Result string `json:"result" jsonschema:"Command output"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "chat_send",
		Description: "Ask the knowledge base a question. The reply is grounded on ingested documents and the user's prior turns.",
	}, s.chatSend)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest_pdf",
		Description: "Extract a PDF from disk, chunk and embed it, and replace the knowledge base collection with the result.",
	}, s.ingestPDF)

	for _, h := range s.commands.List() {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        h.Name,
			Description: h.Description,
			InputSchema: commandSchema(h),
		}, s.runCommand(h.Name))
	}
}

func (s *Server) chatSend(ctx context.Context, _ *mcp.CallToolRequest, in chatInput) (_ *mcp.CallToolResult, out chatOutput, err error) {
	done := s.metrics.track(ctx, "chat_send")
	defer func() { done(err) }()

	if err := logging.ValidateID(in.UserID, "user_id"); err != nil {
		return nil, out, fmt.Errorf("%w: %v", errInvalidInput, err)
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, out, fmt.Errorf("%w: message is required", errInvalidInput)
	}

	res := s.chat.Send(logging.WithUserID(ctx, in.UserID), in.UserID, in.Message)
	return nil, chatOutput{Reply: res.Reply, Outcome: res.Outcome}, nil
}

func (s *Server) ingestPDF(ctx context.Context, _ *mcp.CallToolRequest, in ingestInput) (_ *mcp.CallToolResult, out ingestion.Result, err error) {
	done := s.metrics.track(ctx, "ingest_pdf")
	defer func() { done(err) }()

	if strings.TrimSpace(in.Path) == "" {
		return nil, out, fmt.Errorf("%w: path is required", errInvalidInput)
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = s.config.DefaultCategory
	}

	pages, err := s.extractor.ExtractFile(ctx, in.Path)
	if err != nil {
		return nil, out, err
	}
	name := filepath.Base(in.Path)
	out, err = s.ingester.Ingest(ctx, pages, name, category)
	if err != nil {
		return nil, out, err
	}
	s.logger.Info("ingested document via mcp",
		zap.String("file", name),
		zap.Int("written", out.Written),
		zap.Int("skipped", out.Skipped))
	return nil, out, nil
}

func (s *Server) runCommand(name string) mcp.ToolHandlerFor[map[string]any, commandOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args map[string]any) (_ *mcp.CallToolResult, out commandOutput, err error) {
		done := s.metrics.track(ctx, name)
		defer func() { done(err) }()

		result, err := s.commands.Run(ctx, name, commands.Args(args))
		if err != nil {
			return nil, out, err
		}
		return nil, commandOutput{Result: result}, nil
	}
}

// commandSchema describes a command's parameters as a JSON object schema.
func commandSchema(h *commands.Handler) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(h.Params)),
	}
	for _, p := range h.Params {
		schema.Properties[p.Name] = &jsonschema.Schema{
			Type:        string(p.Type),
			Description: p.Description,
		}
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}
