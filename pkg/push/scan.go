package push

import (
	"strings"
)

// responseLines splits output into trimmed non-empty lines, dropping echoes
// of the commands that were sent. An echo is the bare command or the command
// following a prompt character.
func responseLines(output string, sent []string) []string {
	var lines []string
	for _, raw := range strings.Split(strings.ReplaceAll(output, "\r", ""), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || isEcho(line, sent) {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func isEcho(line string, sent []string) bool {
	for _, cmd := range sent {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		if line == cmd {
			return true
		}
		if strings.HasSuffix(line, cmd) {
			prefix := strings.TrimSpace(strings.TrimSuffix(line, cmd))
			if prefix != "" && strings.ContainsAny(prefix[len(prefix)-1:], "#>$") {
				return true
			}
		}
	}
	return false
}

// findNegative returns the first line containing a negative token, trying
// tokens in priority order.
func findNegative(lines []string) (string, bool) {
	lower := lowerAll(lines)
	for _, tok := range NegativeTokens {
		for i, l := range lower {
			if strings.Contains(l, tok) {
				return lines[i], true
			}
		}
	}
	return "", false
}

func containsAny(lines []string, tokens []string) bool {
	for _, l := range lowerAll(lines) {
		for _, tok := range tokens {
			if strings.Contains(l, tok) {
				return true
			}
		}
	}
	return false
}

func lowerAll(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.ToLower(l)
	}
	return out
}

// targetPresent reports whether target appears as a whitespace-delimited
// field of a line or as a quoted JSON string.
func targetPresent(lines []string, target string) bool {
	quoted := `"` + target + `"`
	for _, l := range lines {
		if strings.Contains(l, quoted) {
			return true
		}
		for _, f := range strings.Fields(l) {
			if f == target {
				return true
			}
		}
	}
	return false
}
