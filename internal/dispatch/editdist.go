package dispatch

import (
	"strings"
	"sync"
	"unicode"
)

// commandMemo remembers the last rendered command so repeats are logged
// quietly. Two commands count as repeats unless their edit distance is at
// least 2 after stripping digits, since fan-outs differ only in endpoint
// names and counters.
type commandMemo struct {
	mu   sync.Mutex
	last string
	seen bool
}

func (m *commandMemo) firstOrChanged(cmd string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := !m.seen || editDistanceAtLeast(m.last, cmd, 2, true)
	m.last = cmd
	m.seen = true
	return changed
}

// editDistanceAtLeast reports whether the edit distance between s1 and s2 is
// at least x, optionally ignoring digits. It bails out early once every
// entry of a DP row exceeds x, so near-identical long commands stay cheap.
func editDistanceAtLeast(s1, s2 string, x int, ignoreDigits bool) bool {
	if s1 == s2 {
		return false
	}
	if ignoreDigits {
		s1 = stripDigits(s1)
		s2 = stripDigits(s2)
		if s1 == s2 {
			return false
		}
	}
	r1, r2 := []rune(s1), []rune(s2)
	if abs(len(r1)-len(r2)) > x {
		return true
	}
	dp := make([]int, len(r2)+1)
	for j := range dp {
		dp[j] = j
	}
	for i := 1; i <= len(r1); i++ {
		next := make([]int, 0, len(r2)+1)
		next = append(next, i)
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			next = append(next, min(next[j-1]+1, dp[j]+1, dp[j-1]+cost))
		}
		dp = next
		if minOf(dp) > x {
			return true
		}
	}
	return false
}

func stripDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func minOf(xs []int) int {
	m := xs[0]
	for _, v := range xs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
