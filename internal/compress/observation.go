package compress

import (
	"fmt"
	"strings"
)

const (
	observationSummaryMax = 300
	observationLineMax    = 100
	observationBlockKey   = 200
)

// compressObservations summarizes oversized tool outputs and collapses
// repeated blocks into references. This layer is approximate: detail is
// dropped, which is why it defaults off.
func (p *Pipeline) compressObservations(msgs []Message) ([]Message, int) {
	cut := 0
	seen := make(map[string]int) // first block bytes -> 1-based message number

	for i := range msgs {
		if msgs[i].Role != RoleTool {
			continue
		}
		t := msgs[i].Text()
		if len(t) <= p.cfg.ObservationThreshold {
			continue
		}

		key := t
		if len(key) > observationBlockKey {
			key = key[:observationBlockKey]
		}
		if k, ok := seen[key]; ok {
			msgs[i].SetText(fmt.Sprintf("[See message #%d - same content]", k))
			cut++
			continue
		}
		seen[key] = i + 1

		msgs[i].SetText(p.summarizeObservation(t))
		cut++
	}
	return msgs, cut
}

// summarizeObservation keeps what an LLM needs from a tool result: error
// lines, status lines, important key/value pairs, and a first/last line
// fallback with a line-count marker.
func (p *Pipeline) summarizeObservation(t string) string {
	lines := strings.Split(t, "\n")
	var parts []string

	errN, statN := 0, 0
	for _, line := range lines {
		trimmed := clip(strings.TrimSpace(line), observationLineMax)
		if trimmed == "" {
			continue
		}
		if errN < 3 && p.errorLine.MatchString(trimmed) {
			parts = append(parts, trimmed)
			errN++
			continue
		}
		if statN < 3 && p.statusLine.MatchString(trimmed) {
			parts = append(parts, trimmed)
			statN++
		}
	}

	for _, kv := range p.keyValue.FindAllStringSubmatch(t, 5) {
		parts = append(parts, kv[1]+"="+kv[2])
	}

	if len(parts) == 0 {
		first := clip(strings.TrimSpace(lines[0]), observationLineMax)
		last := clip(strings.TrimSpace(lines[len(lines)-1]), observationLineMax)
		parts = append(parts, first, fmt.Sprintf("[...%d lines...]", len(lines)), last)
	}

	return clip(strings.Join(parts, "\n"), observationSummaryMax)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
