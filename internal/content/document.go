package content

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
)

// BodyKey is the map key that holds the markdown body below the front matter.
const BodyKey = "body"

// ErrMissingClosingDelimiter indicates a document opened a front matter block
// with `---` but never closed it.
var ErrMissingClosingDelimiter = errors.New("front matter start delimiter found but closing delimiter is missing")

// Split separates a `---` delimited YAML header from the body. When the
// document has no header, had is false and body is the full input.
func Split(doc []byte) (header, body []byte, had bool, err error) {
	nl := detectNewline(doc)
	open := []byte("---" + nl)
	if !bytes.HasPrefix(doc, open) {
		return nil, doc, false, nil
	}

	start := len(open)
	if bytes.HasPrefix(doc[start:], open) {
		return []byte{}, doc[start+len(open):], true, nil
	}

	closeSeq := []byte(nl + "---" + nl)
	idx := bytes.Index(doc[start:], closeSeq)
	if idx < 0 {
		// a closing delimiter on the last line without a trailing newline
		tail := []byte(nl + "---")
		if bytes.HasSuffix(doc, tail) {
			return doc[start : len(doc)-len(tail)+len(nl)], []byte{}, true, nil
		}
		return nil, nil, false, ErrMissingClosingDelimiter
	}
	end := start + idx + len(nl)
	return doc[start:end], doc[start+idx+len(closeSeq):], true, nil
}

func detectNewline(doc []byte) string {
	if i := bytes.IndexByte(doc, '\n'); i > 0 && doc[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}

// ParseDocument turns a stored file into structured content according to its
// extension: JSON objects, YAML documents, or markdown with optional front
// matter (the header members followed by a "body" member).
func ParseDocument(p string, raw []byte) (Value, error) {
	switch strings.ToLower(path.Ext(p)) {
	case ".json":
		v, err := ParseJSON(raw)
		if err != nil {
			return Value{}, fmt.Errorf("parsing %s: %w", p, err)
		}
		return v, nil
	case ".yml", ".yaml":
		v, err := ParseYAML(raw)
		if err != nil {
			return Value{}, fmt.Errorf("parsing %s: %w", p, err)
		}
		return v, nil
	}

	header, body, had, err := Split(raw)
	if err != nil {
		return Value{}, fmt.Errorf("parsing %s: %w", p, err)
	}
	out := EmptyMap()
	if had {
		fm, err := ParseYAML(header)
		if err != nil {
			return Value{}, fmt.Errorf("parsing front matter of %s: %w", p, err)
		}
		if fm.Kind() != KindMap {
			return Value{}, fmt.Errorf("parsing front matter of %s: header is %s, not map", p, fm.Kind())
		}
		out = fm
	}
	return out.With(BodyKey, String(string(body))), nil
}
