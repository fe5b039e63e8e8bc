// Package console prints the startup banner and section summaries the
// binaries show before structured logging takes over.
package console

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const width = 46

func Banner(title, subtitle string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Printf("\033[36;1m  │\033[0m%s\033[36;1m│\033[0m\n", center(title, 43))
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	if subtitle != "" {
		fmt.Printf("  %s\n\n", subtitle)
	}
}

func Section(title string) {
	lineLen := width - utf8.RuneCountInString(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func Stat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := width - 4 - utf8.RuneCountInString(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func OK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func Ready(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

func center(s string, w int) string {
	n := utf8.RuneCountInString(s)
	if n >= w {
		return s
	}
	left := (w - n) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", w-n-left)
}
