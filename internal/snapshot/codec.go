package snapshot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/vk/quern/internal/ctxlog"
	"github.com/vk/quern/internal/fingerprint"
	"github.com/vk/quern/internal/graph"
	"github.com/vk/quern/internal/rule"
)

// FormatVersion is the snapshot format this build reads and writes. Any
// other version on disk is treated the same as corrupt data: recovered by
// starting from an empty graph.
const FormatVersion = 1

// ParseError reports an unreadable snapshot. Load treats it as recoverable;
// Decode surfaces it as-is for tests and tooling.
type ParseError struct {
	Line int
	Msg  string
}

// Error implements the error interface for ParseError.
func (e *ParseError) Error() string {
	return fmt.Sprintf("snapshot line %d: %s", e.Line, e.Msg)
}

// Encode writes the graph in snapshot form:
//
//	format 1
//	func <digest> <quoted-name>
//	node <out-degree> <func-index|-> <digest|-> <quoted-path>
//	edge direct|indirect <src-index> <dst-index> <func-index|->
//
// Functions are sorted by digest and nodes by path, so encoding the same
// graph twice yields identical bytes. Node and edge records refer to table
// positions; paths remain the durable identity.
func Encode(w io.Writer, g *graph.Graph) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "# build snapshot, written by quern. Do not edit.")
	fmt.Fprintf(bw, "format %d\n", FormatVersion)

	funcs := g.Functions()
	funcIndex := make(map[fingerprint.Digest]int, len(funcs))
	for i, fn := range funcs {
		funcIndex[fn.Digest] = i
		fmt.Fprintf(bw, "func %s %s\n", fn.Digest, strconv.Quote(fn.Name))
	}

	nodes := g.NodesByPath()
	nodeIndex := make(map[string]int, len(nodes))
	for i, n := range nodes {
		nodeIndex[n.Path] = i
	}
	for _, n := range nodes {
		fmt.Fprintf(bw, "node %d %s %s %s\n",
			len(g.Outgoing(n)),
			funcRef(funcIndex, n.Fn),
			digestRef(n.Fingerprint),
			strconv.Quote(n.Path))
	}

	type edgeRec struct {
		kind         graph.EdgeKind
		src, dst, fn int
		fnAbsent     bool
	}
	var edges []edgeRec
	for _, n := range nodes {
		for _, e := range g.Outgoing(n) {
			rec := edgeRec{kind: e.Kind, src: nodeIndex[e.Src.Path], dst: nodeIndex[e.Dst.Path]}
			if e.Fn != nil {
				rec.fn = funcIndex[e.Fn.Digest]
			} else {
				rec.fnAbsent = true
			}
			edges = append(edges, rec)
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].src != edges[j].src {
			return edges[i].src < edges[j].src
		}
		if edges[i].dst != edges[j].dst {
			return edges[i].dst < edges[j].dst
		}
		return edges[i].kind < edges[j].kind
	})
	for _, e := range edges {
		fnField := "-"
		if !e.fnAbsent {
			fnField = strconv.Itoa(e.fn)
		}
		fmt.Fprintf(bw, "edge %s %d %d %s\n", e.kind, e.src, e.dst, fnField)
	}

	return bw.Flush()
}

func funcRef(index map[fingerprint.Digest]int, fn *rule.Function) string {
	if fn == nil {
		return "-"
	}
	return strconv.Itoa(index[fn.Digest])
}

func digestRef(d fingerprint.Digest) string {
	if d.IsZero() {
		return "-"
	}
	return string(d)
}

// Decode reads a snapshot back into a graph. Functions come back as
// placeholders: identities without implementations. Errors are *ParseError.
// The recorded out-degree of each node is a hint only; a mismatch against
// the parsed edges is logged and the parsed edges win.
func Decode(ctx context.Context, r io.Reader) (*graph.Graph, error) {
	g := graph.New()
	var funcs []*rule.Function
	var nodes []*graph.Node
	var degrees []int
	sawFormat := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		if !sawFormat {
			version, ok := strings.CutPrefix(text, "format ")
			if !ok {
				return nil, &ParseError{Line: line, Msg: fmt.Sprintf("expected format header, got %q", text)}
			}
			v, err := strconv.Atoi(version)
			if err != nil || v != FormatVersion {
				return nil, &ParseError{Line: line, Msg: fmt.Sprintf("unsupported snapshot format %q", version)}
			}
			sawFormat = true
			continue
		}

		switch {
		case strings.HasPrefix(text, "func "):
			rest := strings.TrimPrefix(text, "func ")
			parts := strings.SplitN(rest, " ", 2)
			if len(parts) != 2 {
				return nil, &ParseError{Line: line, Msg: "malformed func record"}
			}
			name, err := strconv.Unquote(parts[1])
			if err != nil {
				return nil, &ParseError{Line: line, Msg: fmt.Sprintf("bad func name: %v", err)}
			}
			fn := g.RegisterFunction(rule.Placeholder(name, fingerprint.Digest(parts[0])))
			funcs = append(funcs, fn)

		case strings.HasPrefix(text, "node "):
			rest := strings.TrimPrefix(text, "node ")
			parts := strings.SplitN(rest, " ", 4)
			if len(parts) != 4 {
				return nil, &ParseError{Line: line, Msg: "malformed node record"}
			}
			outDegree, err := strconv.Atoi(parts[0])
			if err != nil || outDegree < 0 {
				return nil, &ParseError{Line: line, Msg: fmt.Sprintf("bad node degree %q", parts[0])}
			}
			path, err := strconv.Unquote(parts[3])
			if err != nil {
				return nil, &ParseError{Line: line, Msg: fmt.Sprintf("bad node path: %v", err)}
			}
			if _, exists := g.Node(path); exists {
				return nil, &ParseError{Line: line, Msg: fmt.Sprintf("duplicate node %q", path)}
			}

			kind := graph.Source
			var fn *rule.Function
			if parts[1] != "-" {
				idx, err := strconv.Atoi(parts[1])
				if err != nil || idx < 0 || idx >= len(funcs) {
					return nil, &ParseError{Line: line, Msg: fmt.Sprintf("node func index %q out of range", parts[1])}
				}
				kind = graph.Generated
				fn = funcs[idx]
			}

			n := g.Ensure(path, kind, len(nodes))
			n.Fn = fn
			if parts[2] != "-" {
				n.Fingerprint = fingerprint.Digest(parts[2])
			}
			nodes = append(nodes, n)
			degrees = append(degrees, outDegree)

		case strings.HasPrefix(text, "edge "):
			rest := strings.TrimPrefix(text, "edge ")
			parts := strings.Fields(rest)
			if len(parts) != 4 {
				return nil, &ParseError{Line: line, Msg: "malformed edge record"}
			}
			var kind graph.EdgeKind
			switch parts[0] {
			case "direct":
				kind = graph.Direct
			case "indirect":
				kind = graph.Indirect
			default:
				return nil, &ParseError{Line: line, Msg: fmt.Sprintf("unknown edge kind %q", parts[0])}
			}
			src, err := strconv.Atoi(parts[1])
			if err != nil || src < 0 || src >= len(nodes) {
				return nil, &ParseError{Line: line, Msg: fmt.Sprintf("edge source index %q out of range", parts[1])}
			}
			dst, err := strconv.Atoi(parts[2])
			if err != nil || dst < 0 || dst >= len(nodes) {
				return nil, &ParseError{Line: line, Msg: fmt.Sprintf("edge destination index %q out of range", parts[2])}
			}
			var fn *rule.Function
			if parts[3] != "-" {
				idx, err := strconv.Atoi(parts[3])
				if err != nil || idx < 0 || idx >= len(funcs) {
					return nil, &ParseError{Line: line, Msg: fmt.Sprintf("edge func index %q out of range", parts[3])}
				}
				fn = funcs[idx]
			}
			if err := g.AddEdge(nodes[src], nodes[dst], fn, kind); err != nil {
				return nil, &ParseError{Line: line, Msg: err.Error()}
			}

		default:
			return nil, &ParseError{Line: line, Msg: fmt.Sprintf("unknown record %q", text)}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Line: line, Msg: err.Error()}
	}
	if !sawFormat {
		return nil, &ParseError{Line: line, Msg: "missing format header"}
	}

	for i, n := range nodes {
		if actual := len(g.Outgoing(n)); actual != degrees[i] {
			ctxlog.FromContext(ctx).Warn("Snapshot degree hint disagrees with edge records; trusting the edges.",
				"path", n.Path, "hint", degrees[i], "edges", actual)
		}
	}

	return g, nil
}
