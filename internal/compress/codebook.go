package compress

import (
	"fmt"
	"sort"
	"strings"
)

const (
	dynDictMaxCodes     = 100
	dynDictMinPhrase    = 20
	dynDictMaxPhrase    = 200
	dynDictMinRepeat    = 3
	dynDictMinSavings   = 50
	dynDictHeaderCodes  = 20
	dynDictHeaderPhrase = 40
)

// applyDynamicDict mines repeated phrases from the conversation itself and
// assigns $Dxx codes to the highest-value ones.
func (p *Pipeline) applyDynamicDict(msgs []Message) ([]Message, int, string) {
	counts := make(map[string]int)
	for i := range msgs {
		t := msgs[i].Text()
		if t == "" {
			continue
		}
		for _, seg := range p.sentenceCut.Split(t, -1) {
			seg = strings.TrimSpace(seg)
			if n := len(seg); n >= dynDictMinPhrase && n <= dynDictMaxPhrase {
				counts[seg]++
			}
		}
	}

	type candidate struct {
		phrase string
		score  int
	}
	var cands []candidate
	for ph, n := range counts {
		if n < dynDictMinRepeat {
			continue
		}
		// Replacing len(ph) chars with a 4-char code, n times.
		if score := (len(ph) - 4) * n; score > dynDictMinSavings {
			cands = append(cands, candidate{ph, score})
		}
	}
	if len(cands) == 0 {
		return msgs, 0, ""
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].phrase < cands[j].phrase
	})
	if len(cands) > dynDictMaxCodes {
		cands = cands[:dynDictMaxCodes]
	}

	codes := make(map[string]string, len(cands))
	for i, c := range cands {
		codes[c.phrase] = fmt.Sprintf("$D%02d", i+1)
	}

	// Longest-first replacement keeps nested phrases from shadowing.
	byLen := make([]string, 0, len(cands))
	for _, c := range cands {
		byLen = append(byLen, c.phrase)
	}
	sort.Slice(byLen, func(i, j int) bool { return len(byLen[i]) > len(byLen[j]) })

	for i := range msgs {
		t := msgs[i].Text()
		if t == "" {
			continue
		}
		for _, ph := range byLen {
			t = strings.ReplaceAll(t, ph, codes[ph])
		}
		msgs[i].SetText(t)
	}

	n := len(cands)
	if n > dynDictHeaderCodes {
		n = dynDictHeaderCodes
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		ph := cands[i].phrase
		if len(ph) > dynDictHeaderPhrase {
			ph = ph[:dynDictHeaderPhrase]
		}
		parts[i] = codes[cands[i].phrase] + "=" + ph
	}
	return msgs, len(cands), "[DynDict: " + strings.Join(parts, ", ") + "]"
}
