package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
)

var elementaryTypes = map[string]models.StorageType{
	"t_uint256": {Encoding: "inplace", Label: "uint256", NumberOfBytes: "32"},
	"t_uint128": {Encoding: "inplace", Label: "uint128", NumberOfBytes: "16"},
	"t_address": {Encoding: "inplace", Label: "address", NumberOfBytes: "20"},
	"t_bool":    {Encoding: "inplace", Label: "bool", NumberOfBytes: "1"},
}

func field(label, slot string, offset uint64, typ string) models.StorageField {
	return models.StorageField{Label: label, Slot: slot, Offset: offset, Type: typ}
}

func layoutOf(fields ...models.StorageField) *models.StorageLayout {
	types := make(map[string]models.StorageType, len(elementaryTypes))
	for k, v := range elementaryTypes {
		types[k] = v
	}
	return &models.StorageLayout{Storage: fields, Types: types}
}

func TestValidator_AppendIsCompatible(t *testing.T) {
	a := layoutOf(field("x", "0", 0, "t_uint256"))
	b := layoutOf(field("x", "0", 0, "t_uint256"), field("y", "1", 0, "t_address"))

	report := NewValidator().Validate(a, b)

	assert.True(t, report.Compatible)
	assert.Empty(t, report.Violations)
}

func TestValidator_RetypedSlot(t *testing.T) {
	a := layoutOf(field("x", "0", 0, "t_uint256"))
	b := layoutOf(field("x", "0", 0, "t_address"))

	report := NewValidator().Validate(a, b)

	require.False(t, report.Compatible)
	require.Len(t, report.Violations, 1)
	v := report.Violations[0]
	assert.Equal(t, models.ViolationRetyped, v.Kind)
	assert.Equal(t, "0", v.Slot)
	assert.Equal(t, "x", v.FieldA)
	assert.Equal(t, "uint256", v.TypeA)
	assert.Equal(t, "address", v.TypeB)
}

func TestValidator_Classifications(t *testing.T) {
	tests := []struct {
		name     string
		a, b     *models.StorageLayout
		expected []models.ViolationKind
	}{
		{
			name:     "identical layouts",
			a:        layoutOf(field("x", "0", 0, "t_uint256"), field("owner", "1", 0, "t_address")),
			b:        layoutOf(field("x", "0", 0, "t_uint256"), field("owner", "1", 0, "t_address")),
			expected: nil,
		},
		{
			name:     "removed trailing field",
			a:        layoutOf(field("x", "0", 0, "t_uint256"), field("y", "1", 0, "t_uint256")),
			b:        layoutOf(field("x", "0", 0, "t_uint256")),
			expected: []models.ViolationKind{models.ViolationRemoved},
		},
		{
			name:     "replaced field counts as removed",
			a:        layoutOf(field("x", "0", 0, "t_uint256")),
			b:        layoutOf(field("z", "0", 0, "t_uint256")),
			expected: []models.ViolationKind{models.ViolationRemoved},
		},
		{
			name: "swapped fields",
			a:    layoutOf(field("x", "0", 0, "t_uint256"), field("y", "1", 0, "t_uint256")),
			b:    layoutOf(field("y", "0", 0, "t_uint256"), field("x", "1", 0, "t_uint256")),
			expected: []models.ViolationKind{
				models.ViolationReordered,
				models.ViolationReordered,
			},
		},
		{
			name:     "field inserted before existing one",
			a:        layoutOf(field("x", "0", 0, "t_uint256")),
			b:        layoutOf(field("w", "0", 0, "t_uint256"), field("x", "1", 0, "t_uint256")),
			expected: []models.ViolationKind{models.ViolationReordered},
		},
		{
			name:     "widened integer",
			a:        layoutOf(field("x", "0", 0, "t_uint128")),
			b:        layoutOf(field("x", "0", 0, "t_uint256")),
			expected: []models.ViolationKind{models.ViolationSizeChanged},
		},
		{
			name: "packed field shifted by resize",
			a:    layoutOf(field("a", "0", 0, "t_uint128"), field("b", "0", 16, "t_uint128")),
			b:    layoutOf(field("a", "0", 0, "t_uint256"), field("b", "1", 0, "t_uint128")),
			expected: []models.ViolationKind{
				models.ViolationSizeChanged,
				models.ViolationReordered,
			},
		},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := v.Validate(tt.a, tt.b)

			var kinds []models.ViolationKind
			for _, violation := range report.Violations {
				kinds = append(kinds, violation.Kind)
			}
			assert.Equal(t, tt.expected, kinds)
			assert.Equal(t, len(tt.expected) == 0, report.Compatible)
		})
	}
}

func TestValidator_Unresolvable(t *testing.T) {
	v := NewValidator()

	t.Run("nil layout", func(t *testing.T) {
		report := v.Validate(nil, layoutOf(field("x", "0", 0, "t_uint256")))
		require.False(t, report.Compatible)
		require.Len(t, report.Violations, 1)
		assert.Equal(t, models.ViolationUnresolvable, report.Violations[0].Kind)
	})

	t.Run("unknown type reference", func(t *testing.T) {
		b := layoutOf(field("x", "0", 0, "t_struct(Missing)12_storage"))
		report := v.Validate(layoutOf(field("x", "0", 0, "t_uint256")), b)
		require.False(t, report.Compatible)
		require.Len(t, report.Violations, 1)
		assert.Equal(t, models.ViolationUnresolvable, report.Violations[0].Kind)
		assert.Contains(t, report.Violations[0].Detail, "new layout")
	})

	t.Run("invalid slot", func(t *testing.T) {
		a := layoutOf(field("x", "zero", 0, "t_uint256"))
		report := v.Validate(a, layoutOf(field("x", "0", 0, "t_uint256")))
		require.False(t, report.Compatible)
		assert.Equal(t, models.ViolationUnresolvable, report.Violations[0].Kind)
	})
}

func TestValidator_StructMembers(t *testing.T) {
	dealV1 := layoutOf(field("deals", "0", 0, "t_mapping(t_uint256,t_struct(Deal)1_storage)"))
	dealV1.Types["t_mapping(t_uint256,t_struct(Deal)1_storage)"] = models.StorageType{
		Encoding: "mapping", Label: "mapping(uint256 => struct Escrow.Deal)", NumberOfBytes: "32",
		Key: "t_uint256", Value: "t_struct(Deal)1_storage",
	}
	dealV1.Types["t_struct(Deal)1_storage"] = models.StorageType{
		Encoding: "inplace", Label: "struct Escrow.Deal", NumberOfBytes: "64",
		Members: []models.StorageField{
			field("buyer", "0", 0, "t_address"),
			field("amount", "1", 0, "t_uint256"),
		},
	}

	// Appending a member to a struct stored behind a mapping is safe
	appended := layoutOf(field("deals", "0", 0, "t_mapping(t_uint256,t_struct(Deal)7_storage)"))
	appended.Types["t_mapping(t_uint256,t_struct(Deal)7_storage)"] = models.StorageType{
		Encoding: "mapping", Label: "mapping(uint256 => struct Escrow.Deal)", NumberOfBytes: "32",
		Key: "t_uint256", Value: "t_struct(Deal)7_storage",
	}
	appended.Types["t_struct(Deal)7_storage"] = models.StorageType{
		Encoding: "inplace", Label: "struct Escrow.Deal", NumberOfBytes: "96",
		Members: []models.StorageField{
			field("buyer", "0", 0, "t_address"),
			field("amount", "1", 0, "t_uint256"),
			field("released", "2", 0, "t_bool"),
		},
	}

	// Retyping a member is not
	retyped := layoutOf(field("deals", "0", 0, "t_mapping(t_uint256,t_struct(Deal)9_storage)"))
	retyped.Types["t_mapping(t_uint256,t_struct(Deal)9_storage)"] = models.StorageType{
		Encoding: "mapping", Label: "mapping(uint256 => struct Escrow.Deal)", NumberOfBytes: "32",
		Key: "t_uint256", Value: "t_struct(Deal)9_storage",
	}
	retyped.Types["t_struct(Deal)9_storage"] = models.StorageType{
		Encoding: "inplace", Label: "struct Escrow.Deal", NumberOfBytes: "64",
		Members: []models.StorageField{
			field("buyer", "0", 0, "t_uint256"),
			field("amount", "1", 0, "t_uint256"),
		},
	}

	v := NewValidator()

	report := v.Validate(dealV1, appended)
	assert.True(t, report.Compatible, "violations: %v", report.Violations)

	report = v.Validate(dealV1, retyped)
	require.False(t, report.Compatible)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, models.ViolationRetyped, report.Violations[0].Kind)
	assert.Equal(t, "deals[].buyer", report.Violations[0].FieldA)
}

func escrowLayout(contract string, dealMembers ...models.StorageField) *models.StorageLayout {
	l := layoutOf(
		field("deals", "0", 0, "t_mapping(t_uint256,t_struct(Deal)3_storage)"),
		field("status", "1", 0, "t_enum(Status)5"),
	)
	l.Types["t_mapping(t_uint256,t_struct(Deal)3_storage)"] = models.StorageType{
		Encoding: "mapping", Label: "mapping(uint256 => struct " + contract + ".Deal)", NumberOfBytes: "32",
		Key: "t_uint256", Value: "t_struct(Deal)3_storage",
	}
	l.Types["t_struct(Deal)3_storage"] = models.StorageType{
		Encoding: "inplace", Label: "struct " + contract + ".Deal", NumberOfBytes: "64",
		Members: dealMembers,
	}
	l.Types["t_enum(Status)5"] = models.StorageType{
		Encoding: "inplace", Label: "enum " + contract + ".Status", NumberOfBytes: "1",
	}
	return l
}

func TestValidator_RenamedContract(t *testing.T) {
	members := []models.StorageField{
		field("buyer", "0", 0, "t_address"),
		field("amount", "1", 0, "t_uint256"),
	}
	v := NewValidator()

	report := v.Validate(escrowLayout("EscrowUpgradeable", members...), escrowLayout("EscrowUpgradeableV2", members...))
	assert.True(t, report.Compatible, "violations: %v", report.Violations)

	// Members are still compared after the rename
	report = v.Validate(
		escrowLayout("EscrowUpgradeable", members...),
		escrowLayout("EscrowUpgradeableV2", field("buyer", "0", 0, "t_uint256"), field("amount", "1", 0, "t_uint256")),
	)
	require.False(t, report.Compatible)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "deals[].buyer", report.Violations[0].FieldA)
}

func TestUnqualified(t *testing.T) {
	assert.Equal(t, "struct Deal", unqualified("struct Escrow.Deal"))
	assert.Equal(t, "mapping(uint256 => struct Deal)", unqualified("mapping(uint256 => struct Escrow.Deal)"))
	assert.Equal(t, "enum Status[]", unqualified("enum EscrowV2.Status[]"))
	assert.Equal(t, "struct Deal", unqualified("struct Deal"))
	assert.Equal(t, "contract IERC20", unqualified("contract IERC20"))
}

func TestValidator_Deterministic(t *testing.T) {
	a := layoutOf(field("y", "1", 0, "t_uint256"), field("x", "0", 0, "t_uint256"))
	b := layoutOf(field("x", "0", 0, "t_address"))

	v := NewValidator()
	first := v.Validate(a, b)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, v.Validate(a, b))
	}
	require.Len(t, first.Violations, 2)
	assert.Equal(t, "0", first.Violations[0].Slot)
	assert.Equal(t, "1", first.Violations[1].Slot)
}
