package main

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// stageTitle renders a pipeline stage name for display.
func stageTitle(stage string) string {
	if stage == "" {
		return "-"
	}
	return titleCaser.String(strings.ReplaceAll(stage, "_", " "))
}

func formatProgress(progress float64) string {
	return fmt.Sprintf("%.0f%%", progress*100)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
