package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 500 * time.Millisecond
	defaultTimeout  = 10 * time.Second
)

// LarkNotifier posts messages to a Lark (Feishu) custom bot webhook.
type LarkNotifier struct {
	url      string
	client   *fasthttp.Client
	attempts int
	backoff  time.Duration
	timeout  time.Duration
}

// LarkOption configures a LarkNotifier.
type LarkOption func(*LarkNotifier)

// WithAttempts sets how many times a transient failure is tried. Values < 1 mean 1.
func WithAttempts(n int) LarkOption {
	return func(l *LarkNotifier) {
		if n < 1 {
			n = 1
		}
		l.attempts = n
	}
}

// WithBackoff sets the delay before the first retry; it doubles on each retry.
func WithBackoff(d time.Duration) LarkOption {
	return func(l *LarkNotifier) { l.backoff = d }
}

// WithTimeout bounds a single HTTP round trip.
func WithTimeout(d time.Duration) LarkOption {
	return func(l *LarkNotifier) { l.timeout = d }
}

// NewLarkNotifier creates a notifier for the given webhook URL.
func NewLarkNotifier(url string, opts ...LarkOption) *LarkNotifier {
	l := &LarkNotifier{
		url:      url,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.client = &fasthttp.Client{
		Name:                "launchpad",
		MaxIdleConnDuration: 30 * time.Second,
		ReadTimeout:         l.timeout,
		WriteTimeout:        l.timeout,
	}
	return l
}

// larkPost is the "post" rich-text message body accepted by Lark bots.
type larkPost struct {
	MsgType string      `json:"msg_type"`
	Content larkContent `json:"content"`
}

type larkContent struct {
	Post map[string]larkPostBody `json:"post"`
}

type larkPostBody struct {
	Title   string              `json:"title"`
	Content [][]larkPostSegment `json:"content"`
}

type larkPostSegment struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

// larkResponse covers both the current ("code") and legacy ("StatusCode") reply shapes.
type larkResponse struct {
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
	StatusCode int    `json:"StatusCode"`
}

func newLarkPost(msg Message) larkPost {
	return larkPost{
		MsgType: "post",
		Content: larkContent{Post: map[string]larkPostBody{
			"zh_cn": {
				Title:   msg.Title,
				Content: [][]larkPostSegment{{{Tag: "text", Text: msg.Body}}},
			},
		}},
	}
}

// Notify posts msg. Transport errors and 5xx replies are retried with
// exponential backoff; 4xx replies and a nonzero bot code are not.
func (l *LarkNotifier) Notify(ctx context.Context, msg Message) error {
	payload, err := sonic.Marshal(newLarkPost(msg))
	if err != nil {
		return fmt.Errorf("encode lark message: %w", err)
	}

	wait := l.backoff
	var lastErr error
	for attempt := 1; attempt <= l.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("lark notify canceled after %d attempts: %w", attempt-1, lastErr)
			case <-time.After(wait):
			}
			wait *= 2
		}

		retry, err := l.post(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
		slog.Debug("lark notify attempt failed", "attempt", attempt, "error", err)
	}
	return fmt.Errorf("lark notify failed after %d attempts: %w", l.attempts, lastErr)
}

// post performs one round trip and reports whether a failure is worth retrying.
func (l *LarkNotifier) post(ctx context.Context, payload []byte) (bool, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(l.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	deadline := time.Now().Add(l.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := l.client.DoDeadline(req, resp, deadline); err != nil {
		return true, fmt.Errorf("post lark webhook: %w", err)
	}

	status := resp.StatusCode()
	switch {
	case status >= 500:
		return true, fmt.Errorf("lark webhook returned %d", status)
	case status >= 300:
		return false, fmt.Errorf("%w: http %d: %s", ErrRejected, status, truncate(resp.Body(), 200))
	}

	var r larkResponse
	if err := sonic.Unmarshal(resp.Body(), &r); err != nil {
		// bots behind proxies may answer 200 with an empty body
		return false, nil
	}
	if r.Code != 0 {
		return false, fmt.Errorf("%w: code %d: %s", ErrRejected, r.Code, r.Msg)
	}
	if r.StatusCode != 0 {
		return false, fmt.Errorf("%w: status code %d", ErrRejected, r.StatusCode)
	}
	return false, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
