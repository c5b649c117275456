package progress

import (
	"bytes"
	"context"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/trebuchet-org/treb-proxy/internal/domain/config"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

func TestSpinnerProgressReporter_StageLines(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	r := newSpinnerProgressReporter(&out)
	ctx := context.Background()

	r.OnProgress(ctx, usecase.ProgressEvent{Stage: usecase.StageReading, Message: "Reading slots"})
	r.OnProgress(ctx, usecase.ProgressEvent{Stage: usecase.StageUpdating, Message: "Writing manifest"})
	r.OnProgress(ctx, usecase.ProgressEvent{Stage: usecase.StageCompleted, Message: "Imported 0xaa"})

	text := out.String()
	assert.Contains(t, text, "reading Reading slots")
	assert.Contains(t, text, "updating Writing manifest")
	assert.Contains(t, text, "✓ Imported 0xaa")
	assert.False(t, r.spinner.Active())
}

func TestNewProgressSink(t *testing.T) {
	assert.IsType(t, &NopSink{}, NewProgressSink(&config.RuntimeConfig{JSON: true}))
	assert.IsType(t, &NopSink{}, NewProgressSink(&config.RuntimeConfig{NonInteractive: true}))
	assert.IsType(t, &SpinnerProgressReporter{}, NewProgressSink(&config.RuntimeConfig{}))
}

func TestSpinnerProgressReporter_ErrorEndsStage(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	r := newSpinnerProgressReporter(&out)
	ctx := context.Background()

	r.OnProgress(ctx, usecase.ProgressEvent{Stage: usecase.StageDeploying, Message: "Deploying EscrowV2", Spinner: true})
	r.Error("prepare of 0xaa failed")

	assert.False(t, r.spinner.Active())
	assert.Empty(t, r.current)
	assert.Contains(t, out.String(), "prepare of 0xaa failed")

	// The failed stage is not reported as finished later
	r.OnProgress(ctx, usecase.ProgressEvent{Stage: usecase.StageCompleted, Message: "done"})
	assert.NotContains(t, out.String(), "deploying Deploying EscrowV2")
}

func TestSpinnerProgressReporter_InfoKeepsStage(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	r := newSpinnerProgressReporter(&out)

	r.OnProgress(context.Background(), usecase.ProgressEvent{Stage: usecase.StageValidating, Message: "Validating", Spinner: true})
	r.Info("Warning: replacing pending implementation 0x22")

	assert.Equal(t, usecase.StageValidating, r.current)
	assert.Contains(t, out.String(), "Warning: replacing pending implementation 0x22")
}
