package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ConsoleSender writes alerts to a local writer, stderr by default. It is the
// zero-configuration channel for development and for running without any chat
// integration.
type ConsoleSender struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleSender creates a ConsoleSender writing to stderr.
func NewConsoleSender() *ConsoleSender {
	return &ConsoleSender{out: os.Stderr}
}

// NewConsoleSenderTo creates a ConsoleSender writing to the given writer.
func NewConsoleSenderTo(w io.Writer) *ConsoleSender {
	return &ConsoleSender{out: w}
}

// Send writes a single timestamped line per alert.
func (c *ConsoleSender) Send(ctx context.Context, title, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := fmt.Fprintf(c.out, "[%s] %s: %s\n",
		time.Now().UTC().Format(time.RFC3339), title, message)
	if err != nil {
		return fmt.Errorf("console: write: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (c *ConsoleSender) Name() string {
	return "console"
}
