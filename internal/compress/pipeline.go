package compress

import (
	"log"
	"regexp"
	"strings"
)

// Config enables pipeline layers individually. The default-safe set keeps
// only the lossless layers on.
type Config struct {
	Dedup        bool `json:"dedup"`
	Whitespace   bool `json:"whitespace"`
	StaticDict   bool `json:"static_dict"`
	Paths        bool `json:"paths"`
	JSONCompact  bool `json:"json_compact"`
	Observations bool `json:"observations"`
	DynamicDict  bool `json:"dynamic_dict"`

	// MinContentBytes is the should-compress floor over total content.
	MinContentBytes int `json:"min_content_bytes"`

	// ObservationThreshold is the tool-message size above which layer 6
	// summarizes, in bytes.
	ObservationThreshold int `json:"observation_threshold"`
}

// DefaultConfig returns the default-safe layer set: dedup, whitespace, and
// JSON compaction. The dictionary, path, observation, and dynamic layers are
// opt-in.
func DefaultConfig() Config {
	return Config{
		Dedup:                true,
		Whitespace:           true,
		JSONCompact:          true,
		MinContentBytes:      5 * 1024,
		ObservationThreshold: 500,
	}
}

// AggressiveConfig returns every layer enabled, including the approximate
// observation summarizer.
func AggressiveConfig() Config {
	cfg := DefaultConfig()
	cfg.StaticDict = true
	cfg.Paths = true
	cfg.Observations = true
	cfg.DynamicDict = true
	return cfg
}

// Stats reports what the pipeline did to one message list.
type Stats struct {
	OriginalChars   int      `json:"original_chars"`
	CompressedChars int      `json:"compressed_chars"`
	MessagesRemoved int      `json:"messages_removed,omitempty"`
	WhitespaceSaved int      `json:"whitespace_saved,omitempty"`
	DictCodesUsed   int      `json:"dict_codes_used,omitempty"`
	PathPrefixes    int      `json:"path_prefixes,omitempty"`
	JSONCompacted   int      `json:"json_compacted,omitempty"`
	ObservationsCut int      `json:"observations_cut,omitempty"`
	DynCodesUsed    int      `json:"dyn_codes_used,omitempty"`
	Layers          []string `json:"layers,omitempty"`
	Skipped         bool     `json:"skipped,omitempty"`
}

// SavedChars returns the net reduction. Negative values (header overhead on
// barely-compressible input) report as 0.
func (s Stats) SavedChars() int {
	if d := s.OriginalChars - s.CompressedChars; d > 0 {
		return d
	}
	return 0
}

// Ratio returns compressed/original, or 1 for empty input.
func (s Stats) Ratio() float64 {
	if s.OriginalChars == 0 {
		return 1
	}
	return float64(s.CompressedChars) / float64(s.OriginalChars)
}

// Pipeline runs the enabled layers in fixed order over a message list. All
// regular expressions are compiled at construction; a Pipeline is safe for
// concurrent use.
type Pipeline struct {
	cfg  Config
	dict *StaticDict

	multiNewline *regexp.Regexp
	interiorRuns *regexp.Regexp
	pathLike     *regexp.Regexp
	errorLine    *regexp.Regexp
	statusLine   *regexp.Regexp
	keyValue     *regexp.Regexp
	sentenceCut  *regexp.Regexp
}

// NewPipeline builds a Pipeline for the given config.
func NewPipeline(cfg Config) *Pipeline {
	if cfg.MinContentBytes <= 0 {
		cfg.MinContentBytes = 5 * 1024
	}
	if cfg.ObservationThreshold <= 0 {
		cfg.ObservationThreshold = 500
	}
	return &Pipeline{
		cfg:  cfg,
		dict: loadStaticDict(),

		multiNewline: regexp.MustCompile(`\n{3,}`),
		interiorRuns: regexp.MustCompile(`([^\s]) {2,}`),
		pathLike:     regexp.MustCompile(`(?:/[\w.@-]+){3,}/?`),
		errorLine:    regexp.MustCompile(`(?i)error|exception|failed|fatal|panic|denied|timeout|invalid`),
		statusLine:   regexp.MustCompile(`(?i)success|complete|found|created|updated|deleted|passed|\bok\b`),
		keyValue:     regexp.MustCompile(`"(id|name|status|error|message|count|total|url|path)"\s*:\s*"([^"]{1,80})"`),
		sentenceCut:  regexp.MustCompile(`[.!?]\s+|\n`),
	}
}

// ShouldCompress reports whether the message list is worth compressing.
func (p *Pipeline) ShouldCompress(msgs []Message) bool {
	return TotalContentLen(msgs) >= p.cfg.MinContentBytes
}

// Compress runs the enabled layers and returns the transformed list with
// stats. Input below the size floor passes through untouched. The input
// slice is never mutated.
func (p *Pipeline) Compress(msgs []Message) ([]Message, Stats) {
	stats := Stats{OriginalChars: TotalContentLen(msgs)}

	if !p.ShouldCompress(msgs) {
		stats.CompressedChars = stats.OriginalChars
		stats.Skipped = true
		return msgs, stats
	}

	out := cloneMessages(msgs)

	if p.cfg.Dedup {
		var removed int
		out, removed = p.dedupeMessages(out)
		stats.MessagesRemoved = removed
		stats.Layers = append(stats.Layers, "dedup")
	}

	if p.cfg.Whitespace {
		before := TotalContentLen(out)
		for i := range out {
			if t := out[i].Text(); t != "" {
				out[i].SetText(p.normalizeWhitespace(t))
			}
		}
		stats.WhitespaceSaved = before - TotalContentLen(out)
		stats.Layers = append(stats.Layers, "whitespace")
	}

	var dictHeader, pathHeader, dynHeader string

	if p.cfg.StaticDict {
		var used int
		out, used, dictHeader = p.applyStaticDict(out)
		stats.DictCodesUsed = used
		stats.Layers = append(stats.Layers, "dict")
	}

	if p.cfg.Paths {
		var prefixes int
		out, prefixes, pathHeader = p.shortenPaths(out)
		stats.PathPrefixes = prefixes
		stats.Layers = append(stats.Layers, "paths")
	}

	if p.cfg.JSONCompact {
		var compacted int
		out, compacted = p.compactJSON(out)
		stats.JSONCompacted = compacted
		stats.Layers = append(stats.Layers, "json")
	}

	if p.cfg.Observations {
		var cut int
		out, cut = p.compressObservations(out)
		stats.ObservationsCut = cut
		stats.Layers = append(stats.Layers, "observations")
	}

	if p.cfg.DynamicDict {
		var used int
		out, used, dynHeader = p.applyDynamicDict(out)
		stats.DynCodesUsed = used
		stats.Layers = append(stats.Layers, "dyndict")
	}

	prependHeaders(out, dictHeader, pathHeader, dynHeader)

	stats.CompressedChars = TotalContentLen(out)
	if stats.SavedChars() > 0 {
		log.Printf("[Compress] %d -> %d chars (%.0f%%, layers: %s)",
			stats.OriginalChars, stats.CompressedChars, (1-stats.Ratio())*100,
			strings.Join(stats.Layers, ","))
	}
	return out, stats
}

// prependHeaders attaches the codebook header block to the first user
// message. The system message is left alone because providers treat it
// specially. With no user message the headers are dropped; without them the
// codes are unreadable, but a chat with zero user turns is already broken.
func prependHeaders(msgs []Message, parts ...string) {
	var block []string
	for _, p := range parts {
		if p != "" {
			block = append(block, p)
		}
	}
	if len(block) == 0 {
		return
	}
	for i := range msgs {
		if msgs[i].Role == RoleUser {
			msgs[i].SetText(strings.Join(block, "\n") + "\n\n" + msgs[i].Text())
			return
		}
	}
}

func cloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if out[i].Content != nil {
			c := *out[i].Content
			out[i].Content = &c
		}
		if len(out[i].ToolCalls) > 0 {
			tcs := make([]ToolCall, len(out[i].ToolCalls))
			copy(tcs, out[i].ToolCalls)
			out[i].ToolCalls = tcs
		}
	}
	return out
}
