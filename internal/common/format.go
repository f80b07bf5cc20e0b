package common

import (
	"fmt"
	"strings"

	"p2p-escrow-mediator/internal/models"

	"github.com/shopspring/decimal"
)

const (
	// Default separator widths
	DefaultWidth = 80
	WideWidth    = 110
)

// PrintSeparator prints a separator line with the specified character and width
func PrintSeparator(char string, width int) {
	fmt.Println(strings.Repeat(char, width))
}

// PrintHeader prints a formatted header with title and separators
func PrintHeader(title string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(title)
	PrintSeparator("=", width)
}

// PrintFooter prints a formatted footer with message and separators
func PrintFooter(message string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(message)
	fmt.Println(strings.Repeat("=", width) + "\n")
}

// FormatAmount renders an amount with its asset, trimming trailing zeros.
// Amounts that are not locked yet render as "-".
func FormatAmount(amount decimal.Decimal, asset models.Asset) string {
	if amount.IsZero() {
		return "-"
	}
	if asset == "" {
		return amount.String()
	}
	return amount.String() + " " + asset.String()
}

// Check renders a confirmation flag for tables.
func Check(ok bool) string {
	if ok {
		return "✓"
	}
	return "·"
}

// Or returns value, or fallback when value is empty.
func Or(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
