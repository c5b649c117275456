package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

// SpinnerProgressReporter shows the running stage of an upgrade workflow
// with a spinner and prints a line per finished stage
type SpinnerProgressReporter struct {
	mu      sync.Mutex
	spinner *spinner.Spinner
	out     io.Writer

	current      usecase.ExecutionStage
	message      string
	stageStarted time.Time
}

// NewSpinnerProgressReporter creates a new spinner-based progress reporter
// writing to stderr
func NewSpinnerProgressReporter() *SpinnerProgressReporter {
	return newSpinnerProgressReporter(os.Stderr)
}

func newSpinnerProgressReporter(out io.Writer) *SpinnerProgressReporter {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	s.HideCursor = false

	return &SpinnerProgressReporter{
		spinner: s,
		out:     out,
	}
}

// OnProgress handles progress events
func (r *SpinnerProgressReporter) OnProgress(ctx context.Context, event usecase.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.current {
		r.finishStage()
		r.current = event.Stage
		r.stageStarted = time.Now()
	}
	r.message = event.Message

	if event.Stage == usecase.StageCompleted {
		r.stop()
		fmt.Fprintf(r.out, "%s %s\n", color.GreenString("✓"), event.Message)
		r.current = ""
		return
	}

	if event.Spinner {
		r.spinner.Suffix = fmt.Sprintf(" %s %s", color.New(color.FgYellow).Sprint(stageLabel(event.Stage)), event.Message)
		if !r.spinner.Active() {
			r.spinner.Start()
		}
	} else {
		r.stop()
	}
}

// Info prints an info message
func (r *SpinnerProgressReporter) Info(message string) {
	r.printAround(color.New(color.FgCyan), message)
}

// Error prints an error message
func (r *SpinnerProgressReporter) Error(message string) {
	r.mu.Lock()
	r.stop()
	r.current = ""
	r.mu.Unlock()
	r.printAround(color.New(color.FgRed), message)
}

// printAround pauses the spinner while printing
func (r *SpinnerProgressReporter) printAround(c *color.Color, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasActive := r.spinner.Active()
	if wasActive {
		r.spinner.Stop()
	}
	c.Fprintln(r.out, message)
	if wasActive {
		r.spinner.Start()
	}
}

// finishStage prints the stage that just ended with its duration
func (r *SpinnerProgressReporter) finishStage() {
	if r.current == "" || r.current == usecase.StageCompleted {
		return
	}
	r.stop()
	duration := time.Since(r.stageStarted).Round(time.Millisecond)
	fmt.Fprintf(r.out, "%s %s %s %s\n",
		color.GreenString("●"),
		stageLabel(r.current),
		r.message,
		color.New(color.Faint).Sprintf("(%s)", duration),
	)
}

func (r *SpinnerProgressReporter) stop() {
	if r.spinner.Active() {
		r.spinner.Stop()
	}
}

func stageLabel(stage usecase.ExecutionStage) string {
	return strings.ToLower(string(stage))
}

// Ensure SpinnerProgressReporter implements ProgressSink
var _ usecase.ProgressSink = (*SpinnerProgressReporter)(nil)
