package render

import (
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

// Color styles for proxy output
var (
	labelStyle         = color.New(color.Bold)
	addressStyle       = color.New(color.FgWhite)
	timestampStyle     = color.New(color.Faint)
	pendingStyle       = color.New(color.FgYellow)
	staleStyle         = color.New(color.FgRed)
	validatedStyle     = color.New(color.FgGreen)
	notValidatedStyle  = color.New(color.FgYellow)
	sectionHeaderStyle = color.New(color.Bold, color.FgHiWhite)
)

const timeLayout = "2006-01-02 15:04:05 MST"

// ProxyView is the structured (JSON/YAML) shape of a tracked proxy
type ProxyView struct {
	ChainID        uint64       `json:"chainId" yaml:"chainId"`
	Address        string       `json:"address" yaml:"address"`
	Label          string       `json:"label,omitempty" yaml:"label,omitempty"`
	Kind           string       `json:"kind" yaml:"kind"`
	Implementation string       `json:"implementation" yaml:"implementation"`
	Admin          string       `json:"admin" yaml:"admin"`
	Version        uint64       `json:"version" yaml:"version"`
	ImportedAt     time.Time    `json:"importedAt" yaml:"importedAt"`
	Pending        *PendingView `json:"pending,omitempty" yaml:"pending,omitempty"`
	History        []EventView  `json:"history" yaml:"history"`
	OnChain        *OnChainView `json:"onChain,omitempty" yaml:"onChain,omitempty"`
}

// PendingView is the structured shape of a pending implementation
type PendingView struct {
	Address          string    `json:"address" yaml:"address"`
	ValidatedAgainst string    `json:"validatedAgainst" yaml:"validatedAgainst"`
	SourceLayoutHash string    `json:"sourceLayoutHash" yaml:"sourceLayoutHash"`
	ArtifactPath     string    `json:"artifactPath,omitempty" yaml:"artifactPath,omitempty"`
	PreparedAt       time.Time `json:"preparedAt" yaml:"preparedAt"`
	Stale            bool      `json:"stale" yaml:"stale"`
}

// EventView is the structured shape of an upgrade event
type EventView struct {
	From           string    `json:"from" yaml:"from"`
	To             string    `json:"to" yaml:"to"`
	Validated      bool      `json:"validated" yaml:"validated"`
	TransactionRef string    `json:"transactionRef,omitempty" yaml:"transactionRef,omitempty"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
}

// OnChainView is the structured shape of a drift check
type OnChainView struct {
	Implementation string      `json:"implementation" yaml:"implementation"`
	Admin          string      `json:"admin" yaml:"admin"`
	InSync         bool        `json:"inSync" yaml:"inSync"`
	Drift          []DriftView `json:"drift,omitempty" yaml:"drift,omitempty"`
}

// DriftView is one manifest field that disagrees with the chain
type DriftView struct {
	Field    string `json:"field" yaml:"field"`
	Manifest string `json:"manifest" yaml:"manifest"`
	OnChain  string `json:"onChain" yaml:"onChain"`
}

// NewProxyView converts a record into its structured shape
func NewProxyView(record *models.ProxyRecord) ProxyView {
	view := ProxyView{
		ChainID:        record.ChainID,
		Address:        record.Address.Hex(),
		Label:          record.Label,
		Kind:           string(record.Kind),
		Implementation: record.Implementation.Hex(),
		Admin:          record.Admin.Hex(),
		Version:        record.Version,
		ImportedAt:     record.ImportedAt,
		History: lo.Map(record.History, func(e models.UpgradeEvent, _ int) EventView {
			return EventView{
				From:           e.From.Hex(),
				To:             e.To.Hex(),
				Validated:      e.Validated,
				TransactionRef: e.TransactionRef,
				Timestamp:      e.Timestamp,
			}
		}),
	}
	if p := record.Pending; p != nil {
		view.Pending = &PendingView{
			Address:          p.Address.Hex(),
			ValidatedAgainst: p.ValidatedAgainst.Hex(),
			SourceLayoutHash: p.SourceLayoutHash.Hex(),
			ArtifactPath:     p.ArtifactPath,
			PreparedAt:       p.PreparedAt,
			Stale:            p.IsStale(record.Implementation),
		}
	}
	return view
}

// NewQueryView converts a query result, including the drift check if one ran
func NewQueryView(result *usecase.QueryResult) ProxyView {
	view := NewProxyView(result.Record)
	if result.Checked {
		view.OnChain = &OnChainView{
			Implementation: result.OnChainImplementation.Hex(),
			Admin:          result.OnChainAdmin.Hex(),
			InSync:         !result.HasDrift(),
			Drift: lo.Map(result.Drift, func(d usecase.DriftField, _ int) DriftView {
				return DriftView{Field: d.Field, Manifest: d.Manifest.Hex(), OnChain: d.OnChain.Hex()}
			}),
		}
	}
	return view
}

// ProxyRenderer renders tracked proxies and upgrade outcomes
type ProxyRenderer struct {
	out io.Writer
}

// NewProxyRenderer creates a new proxy renderer
func NewProxyRenderer(out io.Writer) *ProxyRenderer {
	return &ProxyRenderer{out: out}
}

// RenderQuery renders the full record of one proxy
func (r *ProxyRenderer) RenderQuery(result *usecase.QueryResult) error {
	record := result.Record

	r.field("Proxy", labelStyle.Sprint(record.DisplayName()))
	r.field("Chain", fmt.Sprintf("%d", record.ChainID))
	r.field("Kind", title(string(record.Kind)))
	r.field("Implementation", addressStyle.Sprint(record.Implementation.Hex()))
	r.field("Admin", addressStyle.Sprint(record.Admin.Hex()))
	r.field("Imported", timestampStyle.Sprint(record.ImportedAt.Format(timeLayout)))
	r.field("Version", fmt.Sprintf("%d", record.Version))

	if p := record.Pending; p != nil {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, sectionHeaderStyle.Sprint("Pending Implementation"))
		r.renderPending(record, p)
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, sectionHeaderStyle.Sprintf("Upgrade History (%d)", len(record.History)))
	if len(record.History) == 0 {
		fmt.Fprintln(r.out, timestampStyle.Sprint("  No upgrades recorded since import"))
	} else {
		fmt.Fprintln(r.out, historyTable(record.History))
	}

	if result.Checked {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, sectionHeaderStyle.Sprint("On-chain State"))
		if !result.HasDrift() {
			fmt.Fprintln(r.out, validatedStyle.Sprint("  ✓ Manifest matches the EIP-1967 slots"))
		}
		for _, d := range result.Drift {
			fmt.Fprintf(r.out, "  %s %s: manifest %s, on-chain %s\n",
				staleStyle.Sprint("✗"), d.Field, d.Manifest.Hex(), staleStyle.Sprint(d.OnChain.Hex()))
		}
	}
	return nil
}

// RenderList renders tracked proxies as a table
func (r *ProxyRenderer) RenderList(chainID uint64, records []*models.ProxyRecord) error {
	if len(records) == 0 {
		fmt.Fprintf(r.out, "No proxies tracked on chain %d\n", chainID)
		return nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"Label", "Proxy", "Implementation", "Pending", "Upgrades"})
	for _, record := range records {
		pending := "-"
		if p := record.Pending; p != nil {
			pending = pendingStyle.Sprint(shortAddress(p.Address))
			if p.IsStale(record.Implementation) {
				pending = staleStyle.Sprintf("%s (stale)", shortAddress(p.Address))
			}
		}
		t.AppendRow(table.Row{
			lo.Ternary(record.Label == "", "-", record.Label),
			record.Address.Hex(),
			record.Implementation.Hex(),
			pending,
			len(record.History),
		})
	}

	fmt.Fprintf(r.out, "Tracked proxies on chain %d:\n\n", chainID)
	fmt.Fprintln(r.out, t.Render())
	return nil
}

// RenderImport renders a newly imported record
func (r *ProxyRenderer) RenderImport(record *models.ProxyRecord) error {
	fmt.Fprintln(r.out, FormatSuccess(fmt.Sprintf("Imported %s", record.DisplayName())))
	r.field("Kind", title(string(record.Kind)))
	r.field("Implementation", record.Implementation.Hex())
	r.field("Admin", record.Admin.Hex())
	if record.Label == "" {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, FormatWarning("No artifact given; the current storage layout must be registered before the first prepare"))
	}
	return nil
}

// RenderPrepare renders a prepared implementation and its validation report
func (r *ProxyRenderer) RenderPrepare(result *usecase.PrepareResult) error {
	r.RenderReport(result.Report)
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, FormatSuccess(fmt.Sprintf("Prepared %s for %s", result.Pending.Address.Hex(), result.Record.DisplayName())))
	r.renderPending(result.Record, result.Pending)
	return nil
}

// RenderReport renders the verdict of a storage layout comparison
func (r *ProxyRenderer) RenderReport(report models.ValidationReport) {
	if report.Compatible {
		fmt.Fprintln(r.out, validatedStyle.Sprint("✓ Storage layout is compatible"))
		return
	}

	fmt.Fprintln(r.out, staleStyle.Sprintf("✗ Storage layout is incompatible (%d violations)", len(report.Violations)))
	t := newTable()
	t.AppendHeader(table.Row{"Kind", "Slot", "Current", "New"})
	for _, v := range report.Violations {
		if v.Kind == models.ViolationUnresolvable {
			t.AppendRow(table.Row{string(v.Kind), "-", v.Detail, ""})
			continue
		}
		t.AppendRow(table.Row{
			string(v.Kind),
			fmt.Sprintf("%s+%d", v.Slot, v.Offset),
			fieldCell(v.TypeA, v.FieldA),
			fieldCell(v.TypeB, v.FieldB),
		})
	}
	fmt.Fprintln(r.out, t.Render())
}

// RenderUpgrade renders a completed upgrade
func (r *ProxyRenderer) RenderUpgrade(result *usecase.UpgradeResult) error {
	fmt.Fprintln(r.out, FormatSuccess(fmt.Sprintf("Upgraded %s", result.Record.DisplayName())))
	r.field("From", result.Event.From.Hex())
	r.field("To", result.Event.To.Hex())
	r.field("Transaction", result.Event.TransactionRef)
	return nil
}

// RenderTransition describes an upgrade before it is confirmed
func (r *ProxyRenderer) RenderTransition(record *models.ProxyRecord, signer common.Address) {
	fmt.Fprintln(r.out, sectionHeaderStyle.Sprintf("Upgrade %s", record.DisplayName()))
	r.field("Current", record.Implementation.Hex())
	if record.Pending != nil {
		r.field("New", pendingStyle.Sprint(record.Pending.Address.Hex()))
	}
	r.field("Admin", record.Admin.Hex())
	r.field("Signer", addressOrDash(signer))
	fmt.Fprintln(r.out)
}

func (r *ProxyRenderer) renderPending(record *models.ProxyRecord, p *models.PendingImplementation) {
	r.field("Address", pendingStyle.Sprint(p.Address.Hex()))
	against := p.ValidatedAgainst.Hex()
	if p.IsStale(record.Implementation) {
		against = staleStyle.Sprintf("%s (stale, prepare again)", against)
	}
	r.field("Validated against", against)
	r.field("Layout hash", p.SourceLayoutHash.Hex())
	if p.ArtifactPath != "" {
		r.field("Artifact", p.ArtifactPath)
	}
	r.field("Prepared", timestampStyle.Sprint(p.PreparedAt.Format(timeLayout)))
}

func (r *ProxyRenderer) field(name, value string) {
	fmt.Fprintf(r.out, "  %-18s %s\n", name+":", value)
}

func historyTable(history []models.UpgradeEvent) string {
	t := newTable()
	t.AppendHeader(table.Row{"#", "From", "To", "Validated", "Transaction", "Time"})
	for i, e := range history {
		validated := validatedStyle.Sprint("yes")
		if !e.Validated {
			validated = notValidatedStyle.Sprint("no")
		}
		t.AppendRow(table.Row{
			i + 1,
			shortAddress(e.From),
			shortAddress(e.To),
			validated,
			lo.Ternary(e.TransactionRef == "", "-", e.TransactionRef),
			timestampStyle.Sprint(e.Timestamp.Format(timeLayout)),
		})
	}
	return t.Render()
}

func fieldCell(typ, name string) string {
	if name == "" {
		return "-"
	}
	return fmt.Sprintf("%s %s", typ, name)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateColumns = false
	t.Style().Options.SeparateRows = false
	t.Style().Box = table.BoxStyle{
		PaddingLeft:      "  ",
		PaddingRight:     " ",
		MiddleHorizontal: "─",
	}
	t.Style().Format.Header = text.FormatDefault
	return t
}
