package compress

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed codebook.yaml
var codebookYAML []byte

type dictEntry struct {
	Code   string `yaml:"code"`
	Phrase string `yaml:"phrase"`

	ord int
}

// StaticDict holds the embedded codebook, ordered by descending phrase
// length so longer phrases win replacement.
type StaticDict struct {
	entries []dictEntry
}

func loadStaticDict() *StaticDict {
	var doc struct {
		Entries []dictEntry `yaml:"entries"`
	}
	if err := yaml.Unmarshal(codebookYAML, &doc); err != nil {
		// The codebook ships inside the binary; failing to parse it is a
		// build defect, not a runtime condition.
		panic(fmt.Sprintf("compress: embedded codebook: %v", err))
	}
	for i := range doc.Entries {
		doc.Entries[i].ord = i
	}
	sort.SliceStable(doc.Entries, func(i, j int) bool {
		return len(doc.Entries[i].Phrase) > len(doc.Entries[j].Phrase)
	})
	return &StaticDict{entries: doc.Entries}
}

// Len returns the number of codebook entries.
func (d *StaticDict) Len() int {
	return len(d.entries)
}

// applyStaticDict replaces codebook phrases with their codes across all
// message content and returns the header listing codes that fired, in
// codebook order.
func (p *Pipeline) applyStaticDict(msgs []Message) ([]Message, int, string) {
	fired := make(map[string]dictEntry)

	for i := range msgs {
		t := msgs[i].Text()
		if t == "" {
			continue
		}
		for _, e := range p.dict.entries {
			if strings.Contains(t, e.Phrase) {
				t = strings.ReplaceAll(t, e.Phrase, e.Code)
				fired[e.Code] = e
			}
		}
		msgs[i].SetText(t)
	}

	if len(fired) == 0 {
		return msgs, 0, ""
	}

	hits := make([]dictEntry, 0, len(fired))
	for _, e := range fired {
		hits = append(hits, e)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ord < hits[j].ord })

	parts := make([]string, len(hits))
	for i, e := range hits {
		parts[i] = e.Code + "=" + e.Phrase
	}
	return msgs, len(hits), "[Dict: " + strings.Join(parts, ", ") + "]"
}
