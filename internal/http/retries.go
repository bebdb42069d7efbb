package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/cvpay/internal/model"
	"github.com/jmehdipour/cvpay/internal/repository"
	"github.com/jmehdipour/cvpay/internal/worker"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// RetryRunner runs one pass over the retry queue; *worker.Retrier implements it.
type RetryRunner interface {
	RunOnce(ctx context.Context) (worker.Result, error)
}

var errInternal = map[string]string{"error": "Internal server error"}

// corsHeaders allows browser and cron callers of the retry endpoint.
func corsHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set(echo.HeaderAccessControlAllowOrigin, "*")
		h.Set(echo.HeaderAccessControlAllowHeaders, "authorization, x-client-info, apikey, content-type")
		h.Set(echo.HeaderAccessControlAllowMethods, "POST, OPTIONS")
		return next(c)
	}
}

func preflightHandler(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

func processRetriesHandler(runner RetryRunner, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := runner.RunOnce(c.Request().Context())
		if err != nil {
			log.Error("process webhook retries", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errInternal)
		}

		if len(res.Details) == 0 {
			return c.JSON(http.StatusOK, map[string]any{
				"status":    "ok",
				"message":   "No pending retries",
				"processed": 0,
			})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"status":    "ok",
			"processed": res.Processed,
			"succeeded": res.Succeeded,
			"failed":    res.Failed,
			"skipped":   res.Skipped,
			"details":   res.Details,
		})
	}
}

type enqueueReq struct {
	WebhookType string          `json:"webhook_type"`
	Payload     json.RawMessage `json:"payload"`
	OrderID     string          `json:"order_id"`
	UserID      string          `json:"user_id"`
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func enqueueRetryHandler(queue repository.RetryQueue, maxAttempts int, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req enqueueReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		typ, ok := model.ParseWebhookType(req.WebhookType)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid webhook_type"})
		}
		body := bytes.TrimSpace(req.Payload)
		if len(body) == 0 || body[0] != '{' || !json.Valid(body) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "payload must be a JSON object"})
		}

		id, err := queue.Enqueue(c.Request().Context(), model.QueueItem{
			WebhookType: typ,
			Payload:     model.RawJSON(body),
			MaxAttempts: maxAttempts,
			OrderID:     optional(req.OrderID),
			UserID:      optional(req.UserID),
		})
		if err != nil {
			log.Error("enqueue retry", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errInternal)
		}
		return c.JSON(http.StatusCreated, map[string]string{
			"id":     id,
			"status": model.RetryPending.String(),
		})
	}
}

func listFailedHandler(queue repository.RetryQueue, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}

		items, err := queue.ListFailed(c.Request().Context(), limit)
		if err != nil {
			log.Error("list failed retries", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errInternal)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"count":   len(items),
			"results": items,
		})
	}
}

func requeueHandler(queue repository.RetryQueue, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		err := queue.Requeue(c.Request().Context(), id)
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "no permanently failed item with this id"})
		}
		if err != nil {
			log.Error("requeue retry", zap.String("id", id), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errInternal)
		}
		return c.JSON(http.StatusOK, map[string]string{
			"id":     id,
			"status": model.RetryPending.String(),
		})
	}
}
