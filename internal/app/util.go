package app

import (
	"encoding/json"
	"strings"

	"gorm.io/datatypes"
)

// shortID truncates long IDs for readable logging.
func shortID(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:6] + "…" + s[len(s)-6:]
}

// nz returns fallback if s is empty or whitespace-only.
func nz(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// mustJSON marshals v for a JSON column. Values here are
// marshal-safe by construction.
func mustJSON(v any) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func fptr(f float64) *float64 { return &f }
