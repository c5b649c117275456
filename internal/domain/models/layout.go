package models

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// StorageLayout mirrors the solc/Foundry "storageLayout" output
type StorageLayout struct {
	Storage []StorageField         `json:"storage"`
	Types   map[string]StorageType `json:"types"`
}

// StorageField is one persistent state variable (or struct member)
type StorageField struct {
	AstID    int    `json:"astId,omitempty"`
	Contract string `json:"contract,omitempty"`
	Label    string `json:"label"`
	Offset   uint64 `json:"offset"`
	Slot     string `json:"slot"` // decimal, may exceed 64 bits
	Type     string `json:"type"` // key into StorageLayout.Types
}

// StorageType describes a type referenced by a StorageField
type StorageType struct {
	Encoding      string         `json:"encoding"` // inplace, mapping, dynamic_array, bytes
	Label         string         `json:"label"`
	NumberOfBytes string         `json:"numberOfBytes"`
	Members       []StorageField `json:"members,omitempty"`
	Key           string         `json:"key,omitempty"`
	Value         string         `json:"value,omitempty"`
	Base          string         `json:"base,omitempty"`
}

// SlotIndex parses the decimal slot of the field
func (f StorageField) SlotIndex() (*big.Int, error) {
	slot, ok := new(big.Int).SetString(f.Slot, 10)
	if !ok {
		return nil, fmt.Errorf("invalid slot %q for field %s", f.Slot, f.Label)
	}
	return slot, nil
}

// Hash returns keccak256 of the canonical JSON encoding of the layout
func (l *StorageLayout) Hash() common.Hash {
	if l == nil {
		return common.Hash{}
	}
	// encoding/json sorts map keys, so the encoding is canonical
	data, err := json.Marshal(l)
	if err != nil {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(data)
}

// ViolationKind classifies a storage incompatibility
type ViolationKind string

const (
	ViolationRemoved      ViolationKind = "removed"
	ViolationRetyped      ViolationKind = "retyped"
	ViolationReordered    ViolationKind = "reordered"
	ViolationSizeChanged  ViolationKind = "size-changed"
	ViolationUnresolvable ViolationKind = "unresolvable"
)

// Violation describes one storage slot that would be corrupted by an upgrade
type Violation struct {
	Kind   ViolationKind `json:"kind"`
	Slot   string        `json:"slot"`
	Offset uint64        `json:"offset"`
	FieldA string        `json:"fieldA,omitempty"`
	TypeA  string        `json:"typeA,omitempty"`
	FieldB string        `json:"fieldB,omitempty"`
	TypeB  string        `json:"typeB,omitempty"`
	Detail string        `json:"detail,omitempty"`
}

func (v Violation) String() string {
	switch v.Kind {
	case ViolationUnresolvable:
		return fmt.Sprintf("unresolvable layout: %s", v.Detail)
	case ViolationRemoved:
		return fmt.Sprintf("slot %s+%d: %s %s removed", v.Slot, v.Offset, v.TypeA, v.FieldA)
	default:
		return fmt.Sprintf("slot %s+%d: %s %s -> %s %s (%s)", v.Slot, v.Offset, v.TypeA, v.FieldA, v.TypeB, v.FieldB, v.Kind)
	}
}

// ValidationReport is the verdict of comparing two storage layouts
type ValidationReport struct {
	Compatible bool        `json:"compatible"`
	Violations []Violation `json:"violations"`
}
