package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/ragd/internal/commands"
	"github.com/fyrsmithlabs/ragd/internal/extract"
	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/operations"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func (s *Server) handleChatSend(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid chat request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	userID := req.UserID
	if userID == "" {
		userID = c.Request().Header.Get(HeaderUserID)
	}
	if err := logging.ValidateID(userID, "user_id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	}

	res := s.deps.Chat.Send(c.Request().Context(), userID, req.Message)
	return c.JSON(http.StatusOK, ChatResponse{Reply: res.Reply})
}

// historyUser reads the user from the X-User-ID header or the user_id query
// parameter.
func historyUser(c echo.Context) (string, error) {
	userID := c.Request().Header.Get(HeaderUserID)
	if userID == "" {
		userID = c.QueryParam("user_id")
	}
	if err := logging.ValidateID(userID, "user_id"); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return userID, nil
}

func (s *Server) handleHistory(c echo.Context) error {
	userID, err := historyUser(c)
	if err != nil {
		return err
	}
	turns, ok, err := s.deps.Chat.History(c.Request().Context(), userID)
	if err != nil {
		s.logger.Error("loading chat history", zap.String("user_id", userID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load history")
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no conversation for user")
	}
	return c.JSON(http.StatusOK, HistoryResponse{UserID: userID, Turns: turns})
}

func (s *Server) handleResetHistory(c echo.Context) error {
	userID, err := historyUser(c)
	if err != nil {
		return err
	}
	if err := s.deps.Chat.Reset(c.Request().Context(), userID); err != nil {
		s.logger.Error("resetting chat history", zap.String("user_id", userID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to reset history")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleUpload(c echo.Context) error {
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, s.config.MaxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			return c.String(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", s.config.MaxUploadBytes))
		}
		return c.String(http.StatusBadRequest, "multipart field 'file' is required")
	}

	name := filepath.Base(fh.Filename)
	category := strings.TrimSpace(c.FormValue("category"))
	if category == "" {
		category = s.config.DefaultCategory
	}

	async := false
	if raw := c.QueryParam("async"); raw != "" {
		if async, err = strconv.ParseBool(raw); err != nil {
			return c.String(http.StatusBadRequest, "async must be a boolean")
		}
	}

	src, err := fh.Open()
	if err != nil {
		return c.String(http.StatusBadRequest, "unable to read uploaded file")
	}
	defer src.Close()

	ctx := req.Context()
	pages, err := s.deps.Extractor.Extract(ctx, src, fh.Size)
	if err != nil {
		if errors.Is(err, extract.ErrInvalidDocument) {
			return c.String(http.StatusBadRequest, fmt.Sprintf("File '%s' is not a readable PDF.", name))
		}
		s.logger.Error("extracting upload", zap.String("file", name), zap.Error(err))
		return c.String(http.StatusInternalServerError, err.Error())
	}

	if async {
		id := s.ingestAsync(ctx, pages, name, category)
		return c.JSON(http.StatusAccepted, UploadAccepted{OperationID: id})
	}

	res, err := s.deps.Ingester.Ingest(ctx, pages, name, category)
	if err != nil {
		s.logger.Error("ingestion failed", zap.String("file", name), zap.Error(err))
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return c.String(http.StatusOK, fmt.Sprintf("File '%s' ingested: %d chunks stored.", name, res.Written))
}

// ingestAsync runs the pipeline detached from the request and reports
// through the operations registry.
func (s *Server) ingestAsync(ctx context.Context, pages []string, name, category string) string {
	ops := s.deps.Operations
	id := ops.Create(ctx, "ingest_pdf", map[string]string{"file": name, "category": category})

	jobCtx := logging.WithOperationID(context.WithoutCancel(ctx), id)
	jobCtx = logging.WithLogger(jobCtx, logging.Wrap(s.logger).Named("ingest"))
	cancel := context.CancelFunc(func() {})
	if s.config.AsyncTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(jobCtx, s.config.AsyncTimeout)
	}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer cancel()
		log := logging.FromContext(jobCtx)

		if err := ops.Start(id); err != nil {
			log.Warn(jobCtx, "starting operation", zap.Error(err))
		}
		res, err := s.deps.Ingester.Ingest(jobCtx, pages, name, category)
		if err != nil {
			log.Error(jobCtx, "async ingestion failed", zap.String("file", name), zap.Error(err))
			_ = ops.Fail(id, err, res)
			return
		}
		_ = ops.Complete(id, res)
	}()
	return id
}

func (s *Server) handleOperation(c echo.Context) error {
	op, err := s.deps.Operations.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, operations.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "operation not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, op)
}

func (s *Server) handleListCommands(c echo.Context) error {
	return c.JSON(http.StatusOK, CommandList{Commands: s.deps.Commands.List()})
}

func (s *Server) handleCommand(c echo.Context) error {
	var args commands.Args
	if err := json.NewDecoder(c.Request().Body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		return echo.NewHTTPError(http.StatusBadRequest, "arguments must be a JSON object")
	}

	out, err := s.deps.Commands.Run(c.Request().Context(), c.Param("name"), args)
	switch {
	case errors.Is(err, commands.ErrUnknownCommand):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, commands.ErrInvalidArgument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("command failed", zap.String("command", c.Param("name")), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "command failed")
	}
	return c.JSON(http.StatusOK, CommandResponse{Result: out})
}

var _ Ingester = (*ingestion.Pipeline)(nil)
