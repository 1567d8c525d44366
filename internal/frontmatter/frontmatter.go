// Package frontmatter reads and writes the YAML frontmatter of governance
// artifacts (rules, skills, templates, decision records). Reading tolerates
// CRLF documents; everything stratus writes uses plain newlines.
package frontmatter

import (
	"bytes"
	"errors"

	"gopkg.in/yaml.v3"
)

// Fields is the parsed frontmatter mapping of an artifact.
type Fields map[string]any

// ErrUnclosed indicates an opening frontmatter delimiter without a matching
// closing one.
var ErrUnclosed = errors.New("frontmatter opened but never closed")

var delimiter = []byte("---")

// Split separates `---` delimited YAML frontmatter from the markdown body.
// Documents that do not start with a delimiter come back whole as body with
// had false.
func Split(content []byte) (head, body []byte, had bool, err error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))

	open := append(append([]byte{}, delimiter...), '\n')
	if !bytes.HasPrefix(normalized, open) {
		return nil, content, false, nil
	}

	rest := normalized[len(open):]
	if bytes.HasPrefix(rest, open) {
		// Empty frontmatter block.
		return []byte{}, rest[len(open):], true, nil
	}

	closing := []byte("\n---\n")
	idx := bytes.Index(rest, closing)
	if idx < 0 {
		return nil, nil, false, ErrUnclosed
	}
	return rest[:idx+1], rest[idx+len(closing):], true, nil
}

// Parse decodes raw frontmatter bytes (without delimiters) into Fields.
func Parse(head []byte) (Fields, error) {
	if len(head) == 0 {
		return Fields{}, nil
	}
	var fields Fields
	if err := yaml.Unmarshal(head, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = Fields{}
	}
	return fields, nil
}

// Fingerprint extracts the `fingerprint` field from an artifact, used to
// recognize rules the learning pipeline already generated. Returns "" when
// the document has no frontmatter or no fingerprint.
func Fingerprint(content []byte) string {
	head, _, had, err := Split(content)
	if err != nil || !had {
		return ""
	}
	fields, err := Parse(head)
	if err != nil {
		return ""
	}
	fp, _ := fields["fingerprint"].(string)
	return fp
}
