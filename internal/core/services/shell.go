package services

import "strings"

// shellQuote wraps s in single quotes for POSIX sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// stripBenignStderr drops nohup notices and blank lines.
func stripBenignStderr(stderr string) string {
	var kept []string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "nohup") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
