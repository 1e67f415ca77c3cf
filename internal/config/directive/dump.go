package directive

import (
	"strings"
	"unicode"

	jsoniter "github.com/json-iterator/go"
)

// Dump renders root back to directive-grammar text, the `-T` "test and
// dump configuration" surface. Re-parsing the output must yield an
// equivalent tree; since includes are already spliced into the in-memory
// tree, the dumped text is intentionally flat — that is what makes the
// round-trip order-preserving without needing to re-resolve globs against
// a point-in-time filesystem.
func Dump(root *Node) string {
	var b strings.Builder
	for _, c := range root.Children {
		writeNode(&b, c, 0)
	}
	return b.String()
}

func writeNode(b *strings.Builder, n *Node, depth int) {
	indent := strings.Repeat("    ", depth)
	b.WriteString(indent)
	b.WriteString(n.Name)
	for _, a := range n.Args {
		b.WriteByte(' ')
		b.WriteString(quoteIfNeeded(a))
	}
	if n.IsBlock {
		b.WriteString(" {\n")
		for _, c := range n.Children {
			writeNode(b, c, depth+1)
		}
		b.WriteString(indent)
		b.WriteString("}\n")
		return
	}
	b.WriteString(";\n")
}

// DumpJSON renders the parsed tree as indented JSON, the machine-facing
// alternative to Dump for -T --dump-json.
func DumpJSON(root *Node) (string, error) {
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(root, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}

// quoteIfNeeded wraps an argument in double quotes (with escaping) if it
// contains whitespace or grammar-significant characters that would
// otherwise re-tokenize as multiple words.
func quoteIfNeeded(s string) string {
	needsQuote := s == ""
	for _, r := range s {
		if unicode.IsSpace(r) || r == ';' || r == '{' || r == '}' || r == '#' || r == '"' {
			needsQuote = true
			break
		}
	}
	if !needsQuote {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
