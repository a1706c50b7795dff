package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"quotesync/internal/model"
)

var (
	faint = color.New(color.Faint).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

func printOK(msg string) {
	fmt.Println(color.New(color.FgGreen).Sprint("✓ ") + msg)
}

func printWarn(msg string) {
	fmt.Println(color.New(color.FgYellow).Sprint("! ") + msg)
}

func enabled(b bool) string {
	if b {
		return color.GreenString("enabled")
	}
	return color.YellowString("disabled")
}

func valueOr(s, fallback string) string {
	if s == "" {
		return faint(fallback)
	}
	return s
}

// statusText colors a sync queue status.
func statusText(status string) string {
	padded := fmt.Sprintf("%-10s", status)
	switch status {
	case model.SyncDone:
		return color.GreenString(padded)
	case model.SyncFailed:
		return color.RedString(padded)
	case model.SyncProcessing:
		return color.CyanString(padded)
	default:
		return color.YellowString(padded)
	}
}

// encode writes v as yaml or json.
func encode(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q (want table, yaml or json)", format)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
