package layout

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
)

// digits is stripped from type labels to find a type's family,
// e.g. uint128 and uint256 are both "uint"
var digits = regexp.MustCompile(`[0-9]+`)

// qualifier matches the declaring contract in struct and enum labels,
// e.g. "struct Escrow.Deal"
var qualifier = regexp.MustCompile(`\b(struct|enum) [A-Za-z_$][A-Za-z0-9_$]*\.`)

// Validator checks that upgrading from layout A to layout B keeps the
// meaning of every existing storage slot. Only appending is allowed.
type Validator struct{}

// NewValidator creates a new storage layout validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate compares the layouts. It is pure: the same inputs always yield
// the same report.
func (v *Validator) Validate(a, b *models.StorageLayout) models.ValidationReport {
	if err := checkResolvable(a); err != nil {
		return unresolvable(fmt.Sprintf("current layout: %v", err))
	}
	if err := checkResolvable(b); err != nil {
		return unresolvable(fmt.Sprintf("new layout: %v", err))
	}

	c := &comparison{a: a, b: b, seen: make(map[[2]string]bool)}
	c.fields("", sortedFields(a.Storage), sortedFields(b.Storage))

	return models.ValidationReport{
		Compatible: len(c.violations) == 0,
		Violations: c.violations,
	}
}

type comparison struct {
	a, b       *models.StorageLayout
	seen       map[[2]string]bool
	violations []models.Violation
}

func (c *comparison) fields(prefix string, fa, fb []models.StorageField) {
	for i, f := range fa {
		name := prefix + f.Label
		typeA := c.a.Types[f.Type]

		if i >= len(fb) {
			c.add(models.ViolationRemoved, f, name, typeA.Label, "", "")
			continue
		}
		g := fb[i]
		typeB := c.b.Types[g.Type]

		if g.Label != f.Label {
			kind := models.ViolationRemoved
			if hasLabel(fb, f.Label) {
				kind = models.ViolationReordered
			}
			c.add(kind, f, name, typeA.Label, prefix+g.Label, typeB.Label)
			continue
		}

		labelA, labelB := unqualified(typeA.Label), unqualified(typeB.Label)
		switch {
		case labelA == labelB && (f.Slot != g.Slot || f.Offset != g.Offset):
			c.add(models.ViolationReordered, f, name, typeA.Label, name, typeB.Label)
		case labelA != labelB:
			kind := models.ViolationRetyped
			if family(labelA) == family(labelB) && typeA.NumberOfBytes != typeB.NumberOfBytes {
				kind = models.ViolationSizeChanged
			}
			c.add(kind, f, name, typeA.Label, name, typeB.Label)
		case typeA.NumberOfBytes != typeB.NumberOfBytes:
			c.add(models.ViolationSizeChanged, f, name, typeA.Label, name, typeB.Label)
		default:
			c.nested(f, name, f.Type, g.Type)
		}
	}
}

// nested compares struct members and the value/base types of mappings and
// arrays whose labels already matched. Each type pair is visited once so
// recursive structs terminate.
func (c *comparison) nested(f models.StorageField, name, refA, refB string) {
	pair := [2]string{refA, refB}
	if c.seen[pair] {
		return
	}
	c.seen[pair] = true

	ta, tb := c.a.Types[refA], c.b.Types[refB]
	if len(ta.Members) > 0 || len(tb.Members) > 0 {
		c.fields(name+".", sortedFields(ta.Members), sortedFields(tb.Members))
	}
	if ta.Value != "" && tb.Value != "" {
		c.nested(f, name+"[]", ta.Value, tb.Value)
	}
	if ta.Base != "" && tb.Base != "" {
		// Array elements are laid out back to back, so their size is fixed
		baseA, baseB := c.a.Types[ta.Base], c.b.Types[tb.Base]
		if baseA.NumberOfBytes != baseB.NumberOfBytes {
			c.add(models.ViolationSizeChanged, f, name+"[]", baseA.Label, name+"[]", baseB.Label)
			return
		}
		c.nested(f, name+"[]", ta.Base, tb.Base)
	}
}

func (c *comparison) add(kind models.ViolationKind, f models.StorageField, fieldA, typeA, fieldB, typeB string) {
	c.violations = append(c.violations, models.Violation{
		Kind:   kind,
		Slot:   f.Slot,
		Offset: f.Offset,
		FieldA: fieldA,
		TypeA:  typeA,
		FieldB: fieldB,
		TypeB:  typeB,
	})
}

func unresolvable(detail string) models.ValidationReport {
	return models.ValidationReport{
		Compatible: false,
		Violations: []models.Violation{{Kind: models.ViolationUnresolvable, Detail: detail}},
	}
}

// checkResolvable verifies every slot parses and every referenced type exists
func checkResolvable(l *models.StorageLayout) error {
	if l == nil {
		return fmt.Errorf("layout is missing")
	}
	seen := make(map[string]bool)

	var walkFields func(fields []models.StorageField) error
	var walkType func(ref string) error

	walkType = func(ref string) error {
		if seen[ref] {
			return nil
		}
		seen[ref] = true
		t, ok := l.Types[ref]
		if !ok {
			return fmt.Errorf("unknown type %s", ref)
		}
		if err := walkFields(t.Members); err != nil {
			return err
		}
		for _, inner := range []string{t.Key, t.Value, t.Base} {
			if inner == "" {
				continue
			}
			if err := walkType(inner); err != nil {
				return err
			}
		}
		return nil
	}
	walkFields = func(fields []models.StorageField) error {
		for _, f := range fields {
			if _, err := f.SlotIndex(); err != nil {
				return err
			}
			if err := walkType(f.Type); err != nil {
				return fmt.Errorf("field %s: %w", f.Label, err)
			}
		}
		return nil
	}
	return walkFields(l.Storage)
}

// sortedFields orders fields by (slot, offset) without touching the input
func sortedFields(fields []models.StorageField) []models.StorageField {
	sorted := make([]models.StorageField, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, _ := sorted[i].SlotIndex()
		sj, _ := sorted[j].SlotIndex()
		if cmp := si.Cmp(sj); cmp != 0 {
			return cmp < 0
		}
		return sorted[i].Offset < sorted[j].Offset
	})
	return sorted
}

func hasLabel(fields []models.StorageField, label string) bool {
	for _, f := range fields {
		if f.Label == label {
			return true
		}
	}
	return false
}

// unqualified drops the contract name from struct and enum labels so that
// renaming the contract between versions does not change the type.
// Struct members are still compared one by one.
func unqualified(label string) string {
	return qualifier.ReplaceAllString(label, "$1 ")
}

func family(label string) string {
	return digits.ReplaceAllString(label, "")
}

// Ensure Validator implements LayoutValidator
var _ usecase.LayoutValidator = (*Validator)(nil)
