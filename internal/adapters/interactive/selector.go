package interactive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/sahilm/fuzzy"
	"github.com/trebuchet-org/treb-proxy/internal/domain/config"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

// SelectorAdapter handles interactive prompts
type SelectorAdapter struct {
	config *config.RuntimeConfig
}

// NewSelectorAdapter creates a new selector adapter
func NewSelectorAdapter(cfg *config.RuntimeConfig) *SelectorAdapter {
	return &SelectorAdapter{config: cfg}
}

// Confirm asks a yes/no question. Non-interactive runs proceed without
// asking; the caller opted in by disabling prompts.
func (s *SelectorAdapter) Confirm(ctx context.Context, message string) (bool, error) {
	if s.config.NonInteractive {
		return true, nil
	}

	prompt := promptui.Prompt{
		Label:     message,
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, fmt.Errorf("confirmation cancelled: %w", err)
	}
	return true, nil
}

// SelectProxy picks one of several tracked proxies
func (s *SelectorAdapter) SelectProxy(ctx context.Context, records []*models.ProxyRecord, label string) (*models.ProxyRecord, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no proxies to select from")
	}
	if len(records) == 1 {
		return records[0], nil
	}
	if s.config.NonInteractive {
		return nil, fmt.Errorf("%d proxies match; pass the proxy address explicitly", len(records))
	}

	options := formatProxyOptions(records)
	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "▸ {{ . | cyan }}",
		Inactive: "  {{ . | faint }}",
		Selected: "✓ {{ . | green }}",
		Help:     color.New(color.FgYellow).Sprint("Use arrow keys to navigate, Enter to select"),
	}

	promptSelect := promptui.Select{
		Label:             label,
		Items:             options,
		Templates:         templates,
		Size:              10,
		StartInSearchMode: true,
		Searcher:          createFuzzySearchFunc(options),
	}

	index, _, err := promptSelect.Run()
	if err != nil {
		return nil, fmt.Errorf("selection cancelled: %w", err)
	}
	return records[index], nil
}

// formatProxyOptions renders "Label 0xProxy (impl 0xImpl)"
func formatProxyOptions(records []*models.ProxyRecord) []string {
	options := make([]string, len(records))
	for i, r := range records {
		var b strings.Builder
		if r.Label != "" {
			b.WriteString(r.Label + " ")
		}
		b.WriteString(r.Address.Hex())
		fmt.Fprintf(&b, " (impl %s)", r.Implementation.Hex())
		if r.Pending != nil {
			b.WriteString(" [pending]")
		}
		options[i] = b.String()
	}
	return options
}

func createFuzzySearchFunc(options []string) func(string, int) bool {
	return func(input string, index int) bool {
		if input == "" {
			return true
		}
		return len(fuzzy.Find(input, []string{options[index]})) > 0
	}
}

// Ensure SelectorAdapter implements the interactive ports
var (
	_ usecase.Confirmer     = (*SelectorAdapter)(nil)
	_ usecase.ProxySelector = (*SelectorAdapter)(nil)
)
