package render

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FormatWarning formats a warning message with the warning icon
func FormatWarning(message string) string {
	return color.New(color.FgYellow).Sprintf("⚠️  %s", message)
}

// FormatError formats an error message with the error icon
func FormatError(message string) string {
	// Capitalize first letter
	if len(message) > 0 {
		message = strings.ToUpper(message[:1]) + message[1:]
	}
	return color.New(color.FgRed).Sprintf("❌ %s", message)
}

// FormatSuccess formats a success message with the success icon
func FormatSuccess(message string) string {
	return color.New(color.FgGreen).Sprintf("✅ %s", message)
}

func title(s string) string {
	return cases.Title(language.English).String(s)
}

// shortAddress abbreviates an address to 0x1234…abcd
func shortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "…" + hex[len(hex)-4:]
}

// addressOrDash renders the zero address as "-"
func addressOrDash(addr common.Address) string {
	if addr == (common.Address{}) {
		return "-"
	}
	return addr.Hex()
}
