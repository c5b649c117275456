package render

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-proxy/internal/domain/models"
	"github.com/trebuchet-org/treb-proxy/internal/usecase"
	"gopkg.in/yaml.v3"
)

var (
	proxyAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	implV1    = common.HexToAddress("0x0000000000000000000000000000000000000011")
	implV2    = common.HexToAddress("0x0000000000000000000000000000000000000022")
	implV3    = common.HexToAddress("0x0000000000000000000000000000000000000033")
	adminAddr = common.HexToAddress("0x00000000000000000000000000000000000000ad")
)

func init() {
	color.NoColor = true
}

func sampleRecord() *models.ProxyRecord {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.ProxyRecord{
		ChainID:        42161,
		Address:        proxyAddr,
		Kind:           models.TransparentProxy,
		Label:          "EscrowUpgradeable",
		Implementation: implV2,
		Admin:          adminAddr,
		History: []models.UpgradeEvent{
			{From: implV1, To: implV2, Validated: true, TransactionRef: "0xabc", Timestamp: ts},
		},
		Pending: &models.PendingImplementation{
			Address:          implV3,
			ValidatedAgainst: implV1,
			ArtifactPath:     "out/Escrow.sol/EscrowV3.json",
			PreparedAt:       ts,
		},
		Version:    4,
		ImportedAt: ts.Add(-time.Hour),
	}
}

func TestProxyRenderer_RenderQuery(t *testing.T) {
	var buf bytes.Buffer
	result := &usecase.QueryResult{
		Record:                sampleRecord(),
		Checked:               true,
		OnChainImplementation: implV3,
		OnChainAdmin:          adminAddr,
		Drift:                 []usecase.DriftField{{Field: "implementation", Manifest: implV2, OnChain: implV3}},
	}

	require.NoError(t, NewProxyRenderer(&buf).RenderQuery(result))
	out := buf.String()

	assert.Contains(t, out, "EscrowUpgradeable ("+proxyAddr.Hex()+")")
	assert.Contains(t, out, "Transparent")
	assert.Contains(t, out, "Upgrade History (1)")
	assert.Contains(t, out, "0xabc")
	assert.Contains(t, out, "stale, prepare again")
	assert.Contains(t, out, "implementation: manifest "+implV2.Hex()+", on-chain "+implV3.Hex())
}

func TestProxyRenderer_RenderList(t *testing.T) {
	var buf bytes.Buffer
	r := NewProxyRenderer(&buf)

	require.NoError(t, r.RenderList(1, nil))
	assert.Contains(t, buf.String(), "No proxies tracked on chain 1")

	buf.Reset()
	require.NoError(t, r.RenderList(42161, []*models.ProxyRecord{sampleRecord()}))
	assert.Contains(t, buf.String(), "EscrowUpgradeable")
	assert.Contains(t, buf.String(), "(stale)")
}

func TestProxyRenderer_RenderReport(t *testing.T) {
	var buf bytes.Buffer
	NewProxyRenderer(&buf).RenderReport(models.ValidationReport{
		Violations: []models.Violation{
			{Kind: models.ViolationRetyped, Slot: "1", FieldA: "owner", TypeA: "address", FieldB: "owner", TypeB: "uint256"},
			{Kind: models.ViolationUnresolvable, Detail: "no layout registered"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "incompatible (2 violations)")
	assert.Contains(t, out, "address owner")
	assert.Contains(t, out, "uint256 owner")
	assert.Contains(t, out, "no layout registered")
}

func TestNewQueryView(t *testing.T) {
	view := NewQueryView(&usecase.QueryResult{Record: sampleRecord()})

	assert.Nil(t, view.OnChain)
	require.NotNil(t, view.Pending)
	assert.True(t, view.Pending.Stale)
	require.Len(t, view.History, 1)
	assert.Equal(t, implV2.Hex(), view.History[0].To)

	var jsonBuf bytes.Buffer
	require.NoError(t, WriteStructured(&jsonBuf, FormatJSON, view))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(jsonBuf.Bytes(), &decoded))
	assert.Equal(t, "EscrowUpgradeable", decoded["label"])
	assert.NotContains(t, decoded, "onChain")

	var yamlBuf bytes.Buffer
	require.NoError(t, WriteStructured(&yamlBuf, FormatYAML, view))
	require.NoError(t, yaml.Unmarshal(yamlBuf.Bytes(), &decoded))
	assert.Equal(t, "transparent", decoded["kind"])
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
