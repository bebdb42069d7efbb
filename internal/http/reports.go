package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/cvpay/internal/model"
	"github.com/jmehdipour/cvpay/internal/repository"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func listPaymentEventsHandler(chRepo repository.CHPaymentEventsRepository, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := strings.TrimSpace(c.QueryParam("user_id"))
		if userID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		var provider model.Provider
		switch raw := strings.ToLower(strings.TrimSpace(c.QueryParam("provider"))); raw {
		case "":
		case string(model.ProviderFondy), string(model.ProviderPaddle):
			provider = model.Provider(raw)
		default:
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid provider"})
		}

		events, err := chRepo.ListByUser(c.Request().Context(), userID, provider, limit, offset)
		if err != nil {
			log.Error("clickhouse list failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(events),
			"results": events,
		})
	}
}
