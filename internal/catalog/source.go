package catalog

import (
	"fmt"
	"strings"
)

// SourceCode identifies the supplier adapter that produced a listing.
type SourceCode string

const (
	// SourceKave is the Kave Home search API.
	SourceKave SourceCode = "KAVE"
	// SourceSklum is the Sklum HTML catalog.
	SourceSklum SourceCode = "SKLUM"
	// SourceSheet is a supplier spreadsheet (CSV or JSON export).
	SourceSheet SourceCode = "SHEET"
)

var sourcePrefixes = map[SourceCode]string{
	SourceKave:  "KV",
	SourceSklum: "SK",
	SourceSheet: "SH",
}

// KnownSources lists every source code in registration order.
func KnownSources() []SourceCode {
	return []SourceCode{SourceKave, SourceSklum, SourceSheet}
}

// ParseSourceCode maps a case-insensitive code onto a known SourceCode.
func ParseSourceCode(raw string) (SourceCode, error) {
	code := SourceCode(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := sourcePrefixes[code]; !ok {
		return "", fmt.Errorf("unknown source code %q", raw)
	}
	return code, nil
}

// Prefix returns the two character tag embedded in generated SKUs.
func (s SourceCode) Prefix() string {
	if p, ok := sourcePrefixes[s]; ok {
		return p
	}
	up := strings.ToUpper(string(s)) + "XX"
	return up[:2]
}

func (s SourceCode) String() string { return string(s) }
