package compress

import "strings"

// normalizeWhitespace applies the lossy-safe text cleanups: newline
// normalization, trailing-space strips, interior space collapsing, halved
// deep indentation, and tab expansion. Code blocks survive because leading
// indentation keeps its structure (just denser) and fences are untouched.
func (p *Pipeline) normalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\t", "  ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		line = strings.TrimRight(line, " ")

		// Halve indentation runs of 8+ spaces (four-space levels become
		// two-space levels).
		indent := leadingSpaces(line)
		if indent >= 8 {
			line = strings.Repeat(" ", indent/2) + line[indent:]
		}

		// Collapse interior multi-space runs, leaving indentation alone.
		line = p.interiorRuns.ReplaceAllString(line, "$1 ")
		lines[i] = line
	}
	s = strings.Join(lines, "\n")

	s = p.multiNewline.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func leadingSpaces(s string) int {
	n := 0
	for n < len(s) && s[n] == ' ' {
		n++
	}
	return n
}
