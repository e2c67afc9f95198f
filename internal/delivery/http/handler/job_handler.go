package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/progprogect/steamids-parser/internal/delivery/http/dto"
	"github.com/progprogect/steamids-parser/internal/delivery/http/middleware"
	"github.com/progprogect/steamids-parser/internal/domain/item"
	"github.com/progprogect/steamids-parser/internal/pkg/logging"
	"github.com/progprogect/steamids-parser/internal/pkg/response"
	"github.com/progprogect/steamids-parser/internal/usecase"
)

const defaultErrorLimit = 100

type JobHandler struct {
	uc  usecase.JobControl
	log logrus.FieldLogger
}

func NewJobHandler(uc usecase.JobControl, log logrus.FieldLogger) *JobHandler {
	return &JobHandler{uc: uc, log: logging.OrStandard(log).WithField("component", "http")}
}

func (h *JobHandler) RegisterRoutes(r fiber.Router) {
	if r == nil {
		return
	}

	r.Post("/:source/start", h.Start)
	r.Post("/:source/stop", h.Stop)
	r.Get("/:source/status", h.Status)
	r.Post("/:source/retry-errors", h.RetryErrors)
	r.Get("/:source/errors", h.Errors)
}

func (h *JobHandler) Start(c fiber.Ctx) error {
	source := c.Params("source")

	var req dto.StartJobRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&req); err != nil {
			return middleware.NewAppError(fiber.StatusBadRequest, "Invalid request payload", nil, err)
		}
	}

	run, err := h.uc.Start(c.Context(), source, strings.TrimSpace(req.File))
	if err != nil {
		return h.mapError(source, err)
	}
	return response.Success(c, fiber.StatusAccepted, "Job accepted", dto.JobActionResponse{
		Result: dto.ResultAccepted,
		Source: string(run.Source),
		Run:    toRunResponse(&run),
	})
}

func (h *JobHandler) Stop(c fiber.Ctx) error {
	source := c.Params("source")
	run, err := h.uc.Stop(c.Context(), source)
	if err != nil {
		return h.mapError(source, err)
	}
	return response.Success(c, fiber.StatusAccepted, "Job stopping", dto.JobActionResponse{
		Result: dto.ResultStopping,
		Source: string(run.Source),
		Run:    toRunResponse(&run),
	})
}

func (h *JobHandler) Status(c fiber.Ctx) error {
	source := c.Params("source")
	st, err := h.uc.Status(c.Context(), source)
	if err != nil {
		return h.mapError(source, err)
	}

	counts := make(map[string]int, len(st.Counts))
	for k, v := range st.Counts {
		counts[string(k)] = v
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, dto.JobStatusResponse{
		Source:          string(st.Source),
		Running:         st.Running,
		Counts:          counts,
		Total:           st.Total,
		Completed:       st.Completed,
		Pending:         st.Pending,
		Processing:      st.Processing,
		Errors:          st.Errors,
		CCURecords:      st.CCURecords,
		PriceRecords:    st.PriceRecords,
		ProgressPercent: st.ProgressPercent,
		Run:             toRunResponse(st.Run),
	})
}

func (h *JobHandler) RetryErrors(c fiber.Ctx) error {
	source := c.Params("source")
	run, err := h.uc.RetryErrors(c.Context(), source)
	if errors.Is(err, usecase.ErrNoErrors) {
		return response.Success(c, fiber.StatusOK, "No items in error state", dto.JobActionResponse{
			Result: dto.ResultNoErrors,
			Source: strings.ToLower(source),
		})
	}
	if err != nil {
		return h.mapError(source, err)
	}
	return response.Success(c, fiber.StatusAccepted, "Retry started", dto.JobActionResponse{
		Result: dto.ResultStarted,
		Source: string(run.Source),
		Run:    toRunResponse(&run),
	})
}

func (h *JobHandler) Errors(c fiber.Ctx) error {
	source := c.Params("source")

	limit := defaultErrorLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return middleware.NewAppError(fiber.StatusBadRequest, "Invalid limit", nil, err)
		}
		limit = v
	}

	entries, err := h.uc.Errors(c.Context(), source, limit)
	if err != nil {
		return h.mapError(source, err)
	}

	items := make([]dto.ErrorLogEntry, 0, len(entries))
	for _, e := range entries {
		items = append(items, dto.ErrorLogEntry{
			ID:        e.ID,
			ItemID:    e.ItemID,
			ErrorType: string(e.Type),
			Message:   e.Message,
			URL:       e.URL,
			CreatedAt: e.CreatedAt,
		})
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, dto.ErrorLogResponse{
		Source: strings.ToLower(source),
		Count:  len(items),
		Items:  items,
	})
}

func (h *JobHandler) mapError(source string, err error) error {
	src := strings.ToLower(source)
	switch {
	case errors.Is(err, item.ErrUnknownSource):
		return middleware.NewAppError(fiber.StatusNotFound, "Unknown source", nil, err)
	case errors.Is(err, usecase.ErrAlreadyRunning):
		return middleware.NewAppError(fiber.StatusConflict, "Job already running", dto.JobActionResponse{Result: dto.ResultAlreadyRunning, Source: src}, err)
	case errors.Is(err, usecase.ErrNotRunning):
		return middleware.NewAppError(fiber.StatusConflict, "Job not running", dto.JobActionResponse{Result: dto.ResultNotRunning, Source: src}, err)
	case errors.Is(err, usecase.ErrInvalidFile):
		return middleware.NewAppError(fiber.StatusUnprocessableEntity, "Invalid id file", dto.JobActionResponse{Result: dto.ResultInvalidFile, Source: src}, err)
	case errors.Is(err, usecase.ErrShuttingDown):
		return fiber.NewError(fiber.StatusServiceUnavailable, "Shutting down")
	default:
		h.log.WithFields(logrus.Fields{"source": src, "error": err}).Error("job request failed")
		return middleware.NewAppError(fiber.StatusInternalServerError, response.MessageInternalServerError, nil, err)
	}
}

func toRunResponse(run *usecase.JobRun) *dto.JobRunResponse {
	if run == nil {
		return nil
	}
	out := &dto.JobRunResponse{
		RunID:      run.RunID,
		Source:     string(run.Source),
		File:       run.File,
		Items:      run.Items,
		Retry:      run.Retry,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Error:      run.Error,
	}
	if s := run.Summary; s != nil {
		out.Summary = &dto.RunSummaryDTO{
			Loaded:    s.Loaded,
			Inserted:  s.Inserted,
			Recovered: s.Recovered,
			Eligible:  s.Eligible,
			Batches:   s.Batches,
			Processed: s.Processed,
			Failed:    s.Failed,
			Cancelled: s.Cancelled,
			Seconds:   s.Duration.Seconds(),
		}
	}
	return out
}
