// Package measure scrapes the benchmarked binary's diagnostic text for the
// structured timing and bandwidth records it prints on stderr.
package measure

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// TimerMarker prefixes a single-line JSON timing payload.
	TimerMarker = "[Timer-JSON]"
	// BandwidthMarker prefixes a single-line JSON traffic payload.
	BandwidthMarker = "[Bandwidth-JSON]"

	actionUUIDMarker = "Voting is happening for action ID:"
)

// TimeRecord is one timing data point.
type TimeRecord struct {
	Description string `json:"description"`
	Nanoseconds int64  `json:"nanoseconds"`
}

// BandwidthRecord is one traffic data point.
type BandwidthRecord struct {
	Description string `json:"description"`
	NumBytes    int64  `json:"num_bytes"`
}

// Extract scans raw diagnostic text and returns all timing and bandwidth
// records in line order. Output that passed through a shell-quoting layer is
// unescaped once before scanning.
//
// A timer payload is bounded by the last `}` on its line because the binary
// may print trailing text after it; a bandwidth payload always ends the
// line, so it extends to end of line. A line carries at most one marker of
// each kind.
func Extract(raw string) ([]TimeRecord, []BandwidthRecord, error) {
	var times []TimeRecord
	var bands []BandwidthRecord
	for _, line := range splitLines(unescape(raw)) {
		if i := strings.Index(line, TimerMarker); i >= 0 {
			end := strings.LastIndex(line, "}")
			if end < 0 {
				return nil, nil, fmt.Errorf("measure: no closing brace after %s in line %q", TimerMarker, line)
			}
			var rec TimeRecord
			if err := json.Unmarshal([]byte(line[i+len(TimerMarker):end+1]), &rec); err != nil {
				return nil, nil, fmt.Errorf("measure: bad timer payload in line %q: %w", line, err)
			}
			times = append(times, rec)
		}
		if i := strings.Index(line, BandwidthMarker); i >= 0 {
			var rec BandwidthRecord
			if err := json.Unmarshal([]byte(line[i+len(BandwidthMarker):]), &rec); err != nil {
				return nil, nil, fmt.Errorf("measure: bad bandwidth payload in line %q: %w", line, err)
			}
			bands = append(bands, rec)
		}
	}
	return times, bands, nil
}

// ActionUUID scrapes the action identifier a proposal command prints, for
// feeding into the subsequent vote commands.
func ActionUUID(raw string) (string, bool) {
	for _, line := range splitLines(raw) {
		if i := strings.Index(line, actionUUIDMarker); i >= 0 {
			return strings.TrimSpace(line[i+len(actionUUIDMarker):]), true
		}
	}
	return "", false
}

// unescape undoes one layer of backslash escaping. Remote outputs that were
// re-quoted by an intermediate shell arrive with `\"` sequences; local
// outputs pass through untouched.
func unescape(s string) string {
	if !strings.Contains(s, `\"`) {
		return s
	}
	return strings.NewReplacer(`\\`, `\`, `\"`, `"`, `\n`, "\n", `\t`, "\t").Replace(s)
}

func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
