package pipeline

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aluiziolira/openbox-deals/models"
)

// DualWriter sends every event to a primary and a secondary writer, for
// example stdout plus a recording file.
type DualWriter struct {
	primary   EventWriter
	secondary EventWriter
	mu        sync.Mutex
}

// NewDualWriter pairs two writers.
func NewDualWriter(primary, secondary EventWriter) *DualWriter {
	return &DualWriter{
		primary:   primary,
		secondary: secondary,
	}
}

// WriteEvent writes ev to both writers, primary first.
func (dw *DualWriter) WriteEvent(ev models.Event) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.primary.WriteEvent(ev); err != nil {
		return fmt.Errorf("primary write failed: %w", err)
	}
	if err := dw.secondary.WriteEvent(ev); err != nil {
		return fmt.Errorf("secondary write failed: %w", err)
	}
	return nil
}

// Close closes whichever writers implement io.Closer.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	if c, ok := dw.primary.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("primary close failed: %w", err))
		}
	}
	if c, ok := dw.secondary.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("secondary close failed: %w", err))
		}
	}
	return errors.Join(errs...)
}
