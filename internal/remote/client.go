package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"levelup/internal/model"
	"levelup/pkg/circuitbreaker"
	"levelup/pkg/logger"
	"levelup/pkg/trace"
)

// StatusError 远端返回非 2xx
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("remote store %s: status %d: %s", e.Op, e.Code, e.Body)
	}
	return fmt.Sprintf("remote store %s: status %d", e.Op, e.Code)
}

// StatusCode 供错误分类使用
func (e *StatusError) StatusCode() int {
	return e.Code
}

// Client 通过 HTTP+JSON 访问习惯存储服务
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig())
	}
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warn("Remote store circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	})
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: breaker,
		logger:  logger,
	}
}

type createHabitRequest struct {
	Name string `json:"name"`
}

type toggleRequest struct {
	HabitID model.HabitID `json:"habitId"`
	Date    string        `json:"date"`
}

type toggleResponse struct {
	Checked bool `json:"checked"`
}

func (c *Client) ListHabits(ctx context.Context) ([]model.Habit, error) {
	var habits []model.Habit
	if err := c.do(ctx, "list_habits", http.MethodGet, "/api/habits", nil, &habits); err != nil {
		return nil, err
	}
	if habits == nil {
		habits = []model.Habit{}
	}
	return habits, nil
}

func (c *Client) CreateHabit(ctx context.Context, name string) (model.Habit, error) {
	var h model.Habit
	if err := c.do(ctx, "create_habit", http.MethodPost, "/api/habits", createHabitRequest{Name: name}, &h); err != nil {
		return model.Habit{}, err
	}
	return h, nil
}

func (c *Client) DeleteHabit(ctx context.Context, id model.HabitID) error {
	return c.do(ctx, "delete_habit", http.MethodDelete, "/api/habits/"+url.PathEscape(id.String()), nil, nil)
}

func (c *Client) ListChecks(ctx context.Context) (model.CheckMarks, error) {
	checks := model.CheckMarks{}
	if err := c.do(ctx, "list_checks", http.MethodGet, "/api/checks", nil, &checks); err != nil {
		return nil, err
	}
	return checks.Clone(), nil
}

func (c *Client) ToggleCheck(ctx context.Context, id model.HabitID, date string) (bool, error) {
	var resp toggleResponse
	if err := c.do(ctx, "toggle_check", http.MethodPost, "/api/checks/toggle", toggleRequest{HabitID: id, Date: date}, &resp); err != nil {
		return false, err
	}
	return resp.Checked, nil
}

// do 发送请求并解码响应，out 为 nil 时忽略响应体
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("remote store %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	log := logger.WithTrace(ctx, c.logger).With(
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
	)

	return c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("remote store %s: build request: %w", op, err)
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if traceID := trace.FromContext(ctx); traceID != "" {
			req.Header.Set(trace.HeaderName, traceID)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("remote store %s: %w", op, err)
		}
		defer resp.Body.Close()

		log.Debug("Remote store responded",
			zap.Int("status", resp.StatusCode),
			zap.Duration("latency", time.Since(start)),
		)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("remote store %s: decode response: %w", op, err)
		}
		return nil
	})
}
