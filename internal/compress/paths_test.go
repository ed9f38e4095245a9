package compress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pathsPipeline() *Pipeline {
	return NewPipeline(Config{Paths: true, MinContentBytes: 1})
}

func TestPathPrefixes(t *testing.T) {
	assert.Equal(t,
		[]string{"/home/alice/", "/home/alice/projects/"},
		pathPrefixes("/home/alice/projects/app"))

	assert.Nil(t, pathPrefixes("/a/b"))
	assert.Equal(t, []string{"/a/b/"}, pathPrefixes("/a/b/c/"))
}

func TestShortenPaths_ReplacesCommonPrefix(t *testing.T) {
	p := pathsPipeline()

	msgs := []Message{user(strings.Join([]string{
		"/home/alice/projects/app/main.go",
		"/home/alice/projects/app/config.json",
		"/home/alice/projects/app/go.mod",
	}, " "))}
	out, prefixes, header := p.shortenPaths(msgs)

	require.Greater(t, prefixes, 0)
	assert.Contains(t, out[0].Text(), "$P1/main.go")
	assert.Contains(t, header, "$P1=/home/alice/projects/app/")
	assert.NotContains(t, out[0].Text(), "/home/alice/projects/app/")
}

func TestShortenPaths_IgnoresRarePrefixes(t *testing.T) {
	p := pathsPipeline()

	msgs := []Message{user("/usr/local/bin/tool and /var/log/app/out.log")}
	out, prefixes, header := p.shortenPaths(msgs)

	assert.Equal(t, 0, prefixes)
	assert.Equal(t, "", header)
	assert.Contains(t, out[0].Text(), "/usr/local/bin/tool")
}

func TestShortenPaths_CapsAtFiveCodes(t *testing.T) {
	p := pathsPipeline()

	var sb strings.Builder
	for _, root := range []string{"alpha", "beta", "gamma", "delta", "edge", "zeta", "eta"} {
		for i := 0; i < 3; i++ {
			sb.WriteString("/srv/" + root + "/data/file" + string(rune('a'+i)) + ".txt ")
		}
	}
	msgs := []Message{user(sb.String())}
	_, prefixes, header := p.shortenPaths(msgs)

	assert.Equal(t, maxPathPrefixes, prefixes)
	assert.Contains(t, header, "$P5=")
	assert.NotContains(t, header, "$P6=")
}

func TestShortenPaths_LongestPrefixWins(t *testing.T) {
	p := pathsPipeline()

	// Both /data/sets/ and /data/sets/raw/ qualify; the longer one must
	// absorb its occurrences.
	msgs := []Message{user(strings.Join([]string{
		"/data/sets/raw/a.csv",
		"/data/sets/raw/b.csv",
		"/data/sets/raw/c.csv",
		"/data/sets/clean/a.csv",
		"/data/sets/clean/b.csv",
		"/data/sets/clean/c.csv",
	}, "\n"))}
	out, _, _ := p.shortenPaths(msgs)

	text := out[0].Text()
	assert.NotContains(t, text, "/data/sets/raw/")
	assert.NotContains(t, text, "/data/sets/clean/")
	assert.NotContains(t, text, "$P1//")
}
