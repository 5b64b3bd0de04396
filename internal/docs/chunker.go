// Package docs maintains the retrieval index of telemetry-message
// documentation: fetched pages are split into unit-preserving chunks,
// embedded once, cached on disk, and searched by cosine similarity.
package docs

import (
	"strings"

	"golang.org/x/net/html"
)

// Unit types recognized by the extractor.
const (
	UnitHeading   = "heading"
	UnitParagraph = "paragraph"
	UnitCode      = "code"
	UnitTable     = "table"
)

// Unit is one structural element extracted from a source document.
type Unit struct {
	Type string
	Text string
}

// Chunk is an embeddable slice of documentation. Content stays under the
// chunk budget unless a single unit exceeds it on its own.
type Chunk struct {
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Embedding []float32 `json:"-"`
}

// ExtractUnits parses an HTML document into headings, paragraphs, code
// blocks, and tables. Plain-text input degrades to paragraphs split on
// blank lines.
func ExtractUnits(content string) []Unit {
	if !strings.Contains(content, "<") {
		return extractPlainText(content)
	}

	var units []Unit
	tokenizer := html.NewTokenizer(strings.NewReader(content))

	var (
		current strings.Builder
		inType  string
		depth   int
	)

	flush := func() {
		text := collapseSpace(current.String())
		if text != "" && inType != "" {
			units = append(units, Unit{Type: inType, Text: text})
		}
		current.Reset()
	}

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			flush()
			break
		}
		switch tt {
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if inType == "" {
				switch {
				case len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6':
					inType, depth = UnitHeading, 1
				case tag == "p" || tag == "li":
					inType, depth = UnitParagraph, 1
				case tag == "pre" || tag == "code":
					inType, depth = UnitCode, 1
				case tag == "table":
					inType, depth = UnitTable, 1
				}
			} else {
				depth++
				if inType == UnitTable && (tag == "td" || tag == "th") {
					current.WriteString(" | ")
				}
				if inType == UnitTable && tag == "tr" {
					current.WriteString("\n")
				}
			}
		case html.EndTagToken:
			if inType != "" {
				depth--
				if depth <= 0 {
					flush()
					inType = ""
				}
			}
		case html.TextToken:
			if inType != "" {
				current.Write(tokenizer.Text())
			}
		}
	}
	return units
}

func extractPlainText(content string) []Unit {
	var units []Unit
	for _, block := range strings.Split(content, "\n\n") {
		text := collapseSpace(block)
		if text == "" {
			continue
		}
		typ := UnitParagraph
		if strings.HasPrefix(strings.TrimSpace(block), "#") {
			typ = UnitHeading
		}
		units = append(units, Unit{Type: typ, Text: text})
	}
	return units
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ChunkUnits groups units into chunks bounded by a character budget,
// never splitting a unit mid-item. Headings prefix the chunk that follows
// them so retrieval keeps its context.
func ChunkUnits(units []Unit, budget int) []Chunk {
	if budget <= 0 {
		budget = 1000
	}

	var (
		chunks  []Chunk
		current strings.Builder
		curType string
	)

	flush := func() {
		if current.Len() == 0 {
			return
		}
		typ := curType
		if typ == "" {
			typ = UnitParagraph
		}
		chunks = append(chunks, Chunk{Content: current.String(), Type: typ})
		current.Reset()
		curType = ""
	}

	for _, unit := range units {
		addition := unit.Text
		if current.Len() > 0 {
			addition = "\n" + addition
		}
		if current.Len() > 0 && current.Len()+len(addition) > budget {
			flush()
			addition = unit.Text
		}
		if curType == "" || unit.Type == UnitHeading {
			curType = unit.Type
		} else if curType == UnitHeading {
			// A heading chunk takes the type of its first body unit.
			curType = unit.Type
		}
		current.WriteString(addition)

		// An oversized single unit stands alone.
		if current.Len() > budget {
			flush()
		}
	}
	flush()
	return chunks
}
