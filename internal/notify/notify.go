// Package notify delivers run reports to people: a chat webhook or the terminal.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrRejected is returned when the endpoint answered but refused the message.
var ErrRejected = errors.New("notification rejected")

// Message is a notification title and body.
type Message struct {
	Title string
	Body  string
}

// Notifier delivers a message. Delivery is best effort; callers log errors and move on.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// New builds a notifier for a target string.
// Empty means notifications are disabled and (nil, nil) is returned.
// "console" and "stdout" print to the terminal; an http(s) URL is a Lark bot webhook.
func New(target string) (Notifier, error) {
	target = strings.TrimSpace(target)
	switch {
	case target == "":
		return nil, nil
	case target == "console" || target == "stdout":
		return NewConsoleNotifier(os.Stdout), nil
	case strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://"):
		return NewLarkNotifier(target), nil
	default:
		return nil, fmt.Errorf("unsupported notification target %q", target)
	}
}
