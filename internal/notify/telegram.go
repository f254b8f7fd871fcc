package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

const defaultTelegramAPI = "https://api.telegram.org"

var ErrSinkMisconfigured = errors.New("telegram sink misconfigured")

type TelegramOptions struct {
	BotToken string
	BaseURL  string
	Timeout  time.Duration

	// Breaker opens after FailureThreshold failures out of the last
	// FailureWindow sends and stays open for OpenDelay.
	FailureThreshold uint
	FailureWindow    uint
	OpenDelay        time.Duration
}

func DefaultTelegramOptions(token string) TelegramOptions {
	return TelegramOptions{
		BotToken:         token,
		BaseURL:          defaultTelegramAPI,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		FailureWindow:    10,
		OpenDelay:        time.Minute,
	}
}

// TelegramSink posts HTML messages through the Bot API sendMessage method.
type TelegramSink struct {
	endpoint string
	client   *http.Client
	breaker  circuitbreaker.CircuitBreaker[any]
	logger   *slog.Logger
}

func NewTelegramSink(opts TelegramOptions, logger *slog.Logger) (*TelegramSink, error) {
	if opts.BotToken == "" {
		return nil, fmt.Errorf("%w: bot token is empty", ErrSinkMisconfigured)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultTelegramAPI
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.FailureWindow == 0 {
		opts.FailureWindow = 10
	}
	if opts.FailureThreshold == 0 || opts.FailureThreshold > opts.FailureWindow {
		opts.FailureThreshold = opts.FailureWindow / 2
		if opts.FailureThreshold == 0 {
			opts.FailureThreshold = 1
		}
	}
	if opts.OpenDelay == 0 {
		opts.OpenDelay = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram")

	breaker := circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(opts.FailureThreshold, opts.FailureWindow).
		WithDelay(opts.OpenDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			log.Warn("circuit breaker state change", "from", e.OldState, "to", e.NewState)
		}).
		Build()

	return &TelegramSink{
		endpoint: fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(opts.BaseURL, "/"), opts.BotToken),
		client:   &http.Client{Timeout: opts.Timeout},
		breaker:  breaker,
		logger:   log,
	}, nil
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (s *TelegramSink) Notify(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return fmt.Errorf("%w: empty chat id", ErrSinkMisconfigured)
	}

	_, err := failsafe.With[any](s.breaker).WithContext(ctx).Get(func() (any, error) {
		return nil, s.send(ctx, chatID, text)
	})
	if err != nil {
		return fmt.Errorf("telegram sendMessage to %s: %w", chatID, err)
	}
	return nil
}

func (s *TelegramSink) send(ctx context.Context, chatID, text string) error {
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)
	form.Set("parse_mode", "HTML")
	form.Set("disable_web_page_preview", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var tr telegramResponse
	_ = json.Unmarshal(body, &tr)

	if resp.StatusCode != http.StatusOK || !tr.OK {
		if tr.Description != "" {
			return fmt.Errorf("telegram error: %s: %s", resp.Status, tr.Description)
		}
		return fmt.Errorf("telegram error: %s", resp.Status)
	}
	return nil
}

// LogSink writes alerts to the log. It is used when no bot token is set.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "notify-log")}
}

func (s *LogSink) Notify(_ context.Context, destination, text string) error {
	s.logger.Info("price alert", "destination", destination, "text", text)
	return nil
}
