// Package notify publishes pipeline run events through ntfy. When no topic
// is configured every publish is a silent no-op so the pipeline never
// depends on the notification path.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tessera/internal/config"
)

const userAgent = "Tessera/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyRunStarted(ctx context.Context, runID string, itemCount int) error
	NotifyRunCompleted(ctx context.Context, runID string, succeeded, failed, excluded int, duration time.Duration) error
	NotifyRunTimedOut(ctx context.Context, runID, activeStage string) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyRunStarted(ctx context.Context, runID string, itemCount int) error {
	data := payload{
		title:   "Tessera - Run Started",
		message: fmt.Sprintf("Run %s started over %d items", runID, itemCount),
		tags:    []string{"tessera", "run", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, runID string, succeeded, failed, excluded int, duration time.Duration) error {
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	var title, message string
	if failed == 0 && excluded == 0 {
		title = "Tessera - Run Complete"
		message = fmt.Sprintf("Run %s complete: %d items processed in %s", runID, succeeded, duration)
	} else {
		title = "Tessera - Run Complete (with errors)"
		message = fmt.Sprintf("Run %s complete: %d succeeded, %d failed, %d excluded in %s",
			runID, succeeded, failed, excluded, duration)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"tessera", "run", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunTimedOut(ctx context.Context, runID, activeStage string) error {
	data := payload{
		title:    "Tessera - Run Timed Out",
		message:  fmt.Sprintf("Run %s hit its deadline during %s; progress is saved and the next run resumes there", runID, activeStage),
		tags:     []string{"tessera", "run", "timeout"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Tessera - Error",
		message:  builder.String(),
		tags:     []string{"tessera", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Tessera - Test",
		message:  "Notification system test",
		tags:     []string{"tessera", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunStarted(context.Context, string, int) error { return nil }
func (noopService) NotifyRunCompleted(context.Context, string, int, int, int, time.Duration) error {
	return nil
}
func (noopService) NotifyRunTimedOut(context.Context, string, string) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error        { return nil }
func (noopService) TestNotification(context.Context) error                  { return nil }
