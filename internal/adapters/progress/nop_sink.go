package progress

import (
	"context"

	"github.com/trebuchet-org/treb-proxy/internal/domain/config"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

// NopSink is a no-op implementation of ProgressSink
type NopSink struct{}

// NewNopSink creates a new no-op progress sink
func NewNopSink() usecase.ProgressSink {
	return &NopSink{}
}

func (n *NopSink) OnProgress(ctx context.Context, event usecase.ProgressEvent) {}
func (n *NopSink) Info(message string)                                         {}
func (n *NopSink) Error(message string)                                        {}

// NewProgressSink picks the spinner for interactive terminals and the
// no-op sink for JSON output and non-interactive runs
func NewProgressSink(cfg *config.RuntimeConfig) usecase.ProgressSink {
	if cfg.JSON || cfg.NonInteractive {
		return NewNopSink()
	}
	return NewSpinnerProgressReporter()
}

// Ensure NopSink implements ProgressSink
var _ usecase.ProgressSink = (*NopSink)(nil)
