// Package governance indexes project governance documents (rules, ADRs,
// templates, skills, agents, architecture notes) into a searchable chunk
// store with content-hash change detection.
package governance

import (
	"strings"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Chunk is one retrievable slice of a document.
type Chunk struct {
	Title   string
	Content string
}

// ChunkMarkdown splits a markdown document into chunks at top-level `##`
// headings. Content before the first heading becomes a preamble chunk titled
// fallbackTitle. Sections with an empty body are dropped.
func ChunkMarkdown(source []byte, fallbackTitle string) []Chunk {
	if strings.TrimSpace(string(source)) == "" {
		return nil
	}

	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(source))

	type section struct {
		title     string
		lineStart int // byte offset of the start of the heading line
		bodyStart int // byte offset just past the heading line
	}
	var sections []section

	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		heading, ok := n.(*gmast.Heading)
		if !ok || heading.Level != 2 || heading.Lines().Len() == 0 {
			continue
		}
		seg := heading.Lines().At(0)
		lineStart := seg.Start
		for lineStart > 0 && source[lineStart-1] != '\n' {
			lineStart--
		}
		// Setext-style level-2 headings (underlined with ---) are not split
		// points; only ATX `## ` lines are.
		if !strings.HasPrefix(string(source[lineStart:]), "##") {
			continue
		}
		bodyStart := seg.Stop
		for bodyStart < len(source) && source[bodyStart] != '\n' {
			bodyStart++
		}
		if bodyStart < len(source) {
			bodyStart++
		}
		sections = append(sections, section{
			title:     headingText(heading, source),
			lineStart: lineStart,
			bodyStart: bodyStart,
		})
	}

	var chunks []Chunk

	preambleEnd := len(source)
	if len(sections) > 0 {
		preambleEnd = sections[0].lineStart
	}
	if preamble := strings.TrimSpace(string(source[:preambleEnd])); preamble != "" {
		chunks = append(chunks, Chunk{Title: fallbackTitle, Content: preamble})
	}

	for i, sec := range sections {
		end := len(source)
		if i+1 < len(sections) {
			end = sections[i+1].lineStart
		}
		body := strings.TrimSpace(string(source[sec.bodyStart:end]))
		if body == "" {
			continue
		}
		chunks = append(chunks, Chunk{Title: sec.title, Content: body})
	}
	return chunks
}

func headingText(heading *gmast.Heading, source []byte) string {
	var sb strings.Builder
	_ = gmast.Walk(heading, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}
		if t, ok := n.(*gmast.Text); ok {
			sb.Write(t.Segment.Value(source))
		}
		return gmast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
