package notifier

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rewired-gh/stockagent/internal/models"
)

// Console writes messages to a local writer, usually standard output.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a console sender on w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Send writes text prefixed with the console tag.
func (c *Console) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "[NOTIFY][console] %s\n", text); err != nil {
		return models.NewNotifyError(models.ChannelConsole, err, "write failed")
	}
	return nil
}
