package snapshot

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/quern/internal/graph"
	"github.com/vk/quern/internal/rule"
)

func buildSampleGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()

	fn := g.RegisterFunction(rule.NewFunction("cat", "cat", "1", []string{"out/ab.txt"}, nil))
	a := g.Ensure("src/a.txt", graph.Source, 0)
	a.Fingerprint = "aaaa"
	b := g.Ensure("src/b.txt", graph.Source, 0)
	b.Fingerprint = "bbbb"
	out := g.Ensure("out/ab.txt", graph.Generated, 0)
	out.Fn = fn
	out.Fingerprint = "cccc"
	tmpl := g.Ensure("tmpl/base.txt", graph.Source, 0)
	tmpl.Fingerprint = "dddd"

	require.NoError(t, g.AddEdge(a, out, fn, graph.Direct))
	require.NoError(t, g.AddEdge(b, out, fn, graph.Direct))
	require.NoError(t, g.AddEdge(tmpl, out, fn, graph.Indirect))
	return g
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	g := buildSampleGraph(t)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g))

	decoded, err := Decode(ctx, &buf)
	require.NoError(t, err)
	assert.True(t, g.Equal(decoded), "round trip must preserve nodes, digests, and edges")

	out, ok := decoded.Node("out/ab.txt")
	require.True(t, ok)
	assert.True(t, out.IsGenerated())
	require.NotNil(t, out.Fn)
	assert.False(t, out.Fn.Runnable(), "snapshot functions come back as placeholders")
	assert.Len(t, decoded.Incoming(out, graph.Direct), 2)
	assert.Len(t, decoded.Incoming(out, graph.Indirect), 1)
}

func TestEncodeIsDeterministic(t *testing.T) {
	g := buildSampleGraph(t)

	var first, second bytes.Buffer
	require.NoError(t, Encode(&first, g))
	require.NoError(t, Encode(&second, g))
	assert.Equal(t, first.String(), second.String())
}

func TestDecodeHeader(t *testing.T) {
	ctx := context.Background()

	t.Run("comments and blank lines are ignored", func(t *testing.T) {
		in := "# a comment\n\nformat 1\n# another\n"
		g, err := Decode(ctx, strings.NewReader(in))
		require.NoError(t, err)
		assert.Equal(t, 0, g.Len())
	})

	t.Run("unsupported version is rejected", func(t *testing.T) {
		_, err := Decode(ctx, strings.NewReader("format 99\n"))
		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Contains(t, perr.Error(), "unsupported snapshot format")
	})

	t.Run("missing header is rejected", func(t *testing.T) {
		_, err := Decode(ctx, strings.NewReader(`node 0 - - "a"`+"\n"))
		var perr *ParseError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("empty input is rejected", func(t *testing.T) {
		_, err := Decode(ctx, strings.NewReader(""))
		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Contains(t, perr.Error(), "missing format header")
	})
}

func TestDecodeMalformedRecords(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"unknown record", "format 1\nbogus line\n", "unknown record"},
		{"bad node degree", "format 1\nnode x - - \"a\"\n", "bad node degree"},
		{"node func out of range", "format 1\nnode 0 5 - \"a\"\n", "out of range"},
		{"edge source out of range", "format 1\nnode 0 - - \"a\"\nedge direct 7 0 -\n", "out of range"},
		{"unknown edge kind", "format 1\nnode 0 - - \"a\"\nnode 0 - - \"b\"\nedge sideways 0 1 -\n", "unknown edge kind"},
		{"duplicate node", "format 1\nnode 0 - - \"a\"\nnode 0 - - \"a\"\n", "duplicate node"},
		{"unquoted path", "format 1\nnode 0 - - a\n", "bad node path"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(ctx, strings.NewReader(tc.in))
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Contains(t, perr.Error(), tc.want)
			assert.Greater(t, perr.Line, 0)
		})
	}
}

func TestDecodeDegreeHintMismatchIsTolerated(t *testing.T) {
	// The hint says two outgoing edges but only one is recorded. The edges
	// are authoritative; the decoder only logs the disagreement.
	in := strings.Join([]string{
		"format 1",
		`func aaaa1111 "cat"`,
		`node 2 - d1 "in.txt"`,
		`node 0 0 d2 "out.txt"`,
		"edge direct 0 1 0",
		"",
	}, "\n")

	g, err := Decode(context.Background(), strings.NewReader(in))
	require.NoError(t, err)

	n, ok := g.Node("in.txt")
	require.True(t, ok)
	assert.Len(t, g.Outgoing(n), 1)
}

func TestDecodePathsWithSpaces(t *testing.T) {
	ctx := context.Background()
	g := graph.New()
	n := g.Ensure("dir with space/a b.txt", graph.Source, 0)
	n.Fingerprint = "abcd"

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g))

	decoded, err := Decode(ctx, &buf)
	require.NoError(t, err)
	got, ok := decoded.Node("dir with space/a b.txt")
	require.True(t, ok)
	assert.Equal(t, n.Fingerprint, got.Fingerprint)
}
