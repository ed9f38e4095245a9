package compress

import (
	"fmt"
	"sort"
	"strings"
)

const maxPathPrefixes = 5

// shortenPaths finds absolute filesystem paths, extracts directory prefixes
// repeated often enough to pay for a code, and rewrites them as $Pk/.
func (p *Pipeline) shortenPaths(msgs []Message) ([]Message, int, string) {
	prefixCount := make(map[string]int)
	for i := range msgs {
		t := msgs[i].Text()
		if t == "" {
			continue
		}
		for _, match := range p.pathLike.FindAllString(t, -1) {
			for _, pre := range pathPrefixes(match) {
				prefixCount[pre]++
			}
		}
	}

	type candidate struct {
		prefix string
		count  int
	}
	var cands []candidate
	for pre, n := range prefixCount {
		if n >= 3 {
			cands = append(cands, candidate{pre, n})
		}
	}
	if len(cands) == 0 {
		return msgs, 0, ""
	}

	// Rank by saved characters; ties broken lexically for determinism.
	sort.Slice(cands, func(i, j int) bool {
		si := len(cands[i].prefix) * cands[i].count
		sj := len(cands[j].prefix) * cands[j].count
		if si != sj {
			return si > sj
		}
		return cands[i].prefix < cands[j].prefix
	})
	if len(cands) > maxPathPrefixes {
		cands = cands[:maxPathPrefixes]
	}

	codes := make(map[string]string, len(cands))
	for i, c := range cands {
		codes[c.prefix] = fmt.Sprintf("$P%d", i+1)
	}

	// Longest prefix first so /a/b/c/ wins over /a/b/ where both apply.
	byLen := make([]string, 0, len(cands))
	for _, c := range cands {
		byLen = append(byLen, c.prefix)
	}
	sort.Slice(byLen, func(i, j int) bool { return len(byLen[i]) > len(byLen[j]) })

	for i := range msgs {
		t := msgs[i].Text()
		if t == "" {
			continue
		}
		for _, pre := range byLen {
			t = strings.ReplaceAll(t, pre, codes[pre]+"/")
		}
		msgs[i].SetText(t)
	}

	parts := make([]string, len(cands))
	for i, c := range cands {
		parts[i] = codes[c.prefix] + "=" + c.prefix
	}
	return msgs, len(cands), "[Paths: " + strings.Join(parts, ", ") + "]"
}

// pathPrefixes returns every proper directory prefix of the path with at
// least two components, trailing slash included.
func pathPrefixes(path string) []string {
	path = strings.TrimSuffix(path, "/")
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) < 3 {
		return nil
	}
	prefixes := make([]string, 0, len(parts)-2)
	for n := 2; n < len(parts); n++ {
		prefixes = append(prefixes, "/"+strings.Join(parts[:n], "/")+"/")
	}
	return prefixes
}
