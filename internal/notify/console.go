package notify

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// ConsoleNotifier prints messages to a writer, highlighting the title.
type ConsoleNotifier struct {
	w     io.Writer
	title *color.Color
}

// NewConsoleNotifier creates a notifier writing to w (os.Stdout when nil).
// Color follows fatih/color's NoColor detection.
func NewConsoleNotifier(w io.Writer) *ConsoleNotifier {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleNotifier{w: w, title: color.New(color.FgCyan, color.Bold)}
}

// Notify writes the title line followed by the body.
func (n *ConsoleNotifier) Notify(_ context.Context, msg Message) error {
	if _, err := n.title.Fprintln(n.w, msg.Title); err != nil {
		return fmt.Errorf("write title: %w", err)
	}
	if _, err := fmt.Fprintln(n.w, msg.Body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}
