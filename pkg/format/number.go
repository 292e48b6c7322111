// Package format renders sales figures for people.
package format

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Units returns v rounded to whole units with thousands separators (e.g., "-1,235").
func Units(v float64) string {
	return message.NewPrinter(language.English).Sprintf("%.0f", v)
}

// Decimal returns v with two decimals and thousands separators (e.g., "1,234.50").
func Decimal(v float64) string {
	return message.NewPrinter(language.English).Sprintf("%.2f", v)
}

// Percent returns v with one decimal and a percent sign (e.g., "-12.5%").
func Percent(v float64) string {
	return message.NewPrinter(language.English).Sprintf("%.1f%%", v)
}
