package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/essaygen/internal/essay"
	"github.com/mohammad-safakhou/essaygen/internal/telemetry"
)

// Essay request outcomes, used as the metrics label.
const (
	outcomeOK         = "ok"
	outcomeBadRequest = "bad_request"
	outcomeNotReady   = "not_ready"
	outcomeModelError = "model_error"
)

type generateRequest struct {
	UserPrompt string `json:"user_prompt"`
}

// EssayHandler serves essay generation and readiness.
type EssayHandler struct {
	Composer *essay.Composer
	Cache    *essay.ContextCache
	Metrics  *telemetry.Metrics
	Logger   *zap.Logger
	// RequestTimeout bounds a single composition; zero means no bound.
	RequestTimeout time.Duration
	// ConventionalStatus maps failures to 4xx/5xx instead of 200.
	ConventionalStatus bool
}

func (h *EssayHandler) Register(e *echo.Echo) {
	e.POST("/generate", h.generate)
	e.GET("/readyz", h.readyz)
}

// generate answers {"essay": ...} or {"error": ...}. A not-ready context is
// reported before the request is looked at.
func (h *EssayHandler) generate(c echo.Context) error {
	if !h.Cache.Get().Usable() {
		return h.reply(c, outcomeNotReady, essay.Result{Error: essay.ErrContextNotReady.Error()})
	}
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return h.reply(c, outcomeBadRequest, essay.Result{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.UserPrompt) == "" {
		return h.reply(c, outcomeBadRequest, essay.Result{Error: "user_prompt is required"})
	}

	ctx := c.Request().Context()
	if h.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.RequestTimeout)
		defer cancel()
	}
	res := h.Composer.Compose(ctx, essay.Request{Instruction: req.UserPrompt})
	switch {
	case res.Err == nil:
		return h.reply(c, outcomeOK, res)
	case errors.Is(res.Err, essay.ErrContextNotReady):
		return h.reply(c, outcomeNotReady, res)
	case errors.Is(res.Err, essay.ErrEmptyInstruction):
		return h.reply(c, outcomeBadRequest, essay.Result{Error: "user_prompt is required"})
	default:
		h.logger().Warn("generate failed",
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(res.Err))
		return h.reply(c, outcomeModelError, res)
	}
}

func (h *EssayHandler) reply(c echo.Context, outcome string, res essay.Result) error {
	h.Metrics.ObserveEssay(outcome)
	code := http.StatusOK
	if h.ConventionalStatus {
		code = statusFor(outcome)
	}
	if res.Error != "" {
		return c.JSON(code, map[string]string{"error": res.Error})
	}
	return c.JSON(code, map[string]string{"essay": res.Essay})
}

func statusFor(outcome string) int {
	switch outcome {
	case outcomeBadRequest:
		return http.StatusBadRequest
	case outcomeNotReady:
		return http.StatusServiceUnavailable
	case outcomeModelError:
		return http.StatusBadGateway
	}
	return http.StatusOK
}

func (h *EssayHandler) readyz(c echo.Context) error {
	state := h.Cache.Get()
	code := http.StatusOK
	if !state.Usable() {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]bool{
		"ready":    state.Ready,
		"fallback": state.Context.Fallback,
	})
}

func (h *EssayHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
