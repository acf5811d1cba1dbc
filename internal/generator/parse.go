package generator

import (
	"autopublisher/internal/text"
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// headingMaxRunes is the length under which an unterminated prose line is
// promoted to a section header.
const headingMaxRunes = 100

var (
	labelLine = regexp.MustCompile(`(?i)^\[(TITLE|T[IÍ]TULO|META_DESCRIPTION|META_DESCRIPCI[OÓ]N|CONTENT|CONTENIDO)\]:?\s*(.*)$`)
	htmlTags  = regexp.MustCompile(`(?i)<(p|h[1-6]|strong|em|ul|ol|li|blockquote|div|section|article)[\s>]`)
	mdMarkers = regexp.MustCompile(`(?m)^(#{1,6}\s|[-*+]\s|\d+\.\s|>\s)|\*\*[^*\n]+\*\*`)
	h1Open    = regexp.MustCompile(`(?i)<h1(\s[^>]*)?>`)
	h1Close   = regexp.MustCompile(`(?i)</h1>`)
	h2Tag     = regexp.MustCompile(`(?i)<h2[\s>]`)
	pTag      = regexp.MustCompile(`(?i)<p[\s>]`)
	listTag   = regexp.MustCompile(`(?i)<(ul|ol|blockquote)[\s>]`)
	headings  = regexp.MustCompile(`(?is)<h[23][^>]*>(.*?)</h[23]>`)
)

type sections struct {
	title    string
	meta     string
	content  string
	labelled bool
}

func splitSections(raw string) sections {
	var (
		sec     sections
		current string
		content []string
	)
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if m := labelLine.FindStringSubmatch(trimmed); m != nil {
			current = labelKind(m[1])
			sec.labelled = true
			line, trimmed = m[2], strings.TrimSpace(m[2])
			if trimmed == "" {
				continue
			}
		}
		switch current {
		case "title":
			if trimmed != "" && sec.title == "" {
				sec.title = trimmed
			}
		case "meta":
			if trimmed != "" && sec.meta == "" {
				sec.meta = trimmed
			}
		case "content":
			content = append(content, line)
		}
	}
	sec.content = strings.TrimSpace(strings.Join(content, "\n"))
	return sec
}

func labelKind(label string) string {
	l := strings.ToUpper(label)
	switch {
	case strings.HasPrefix(l, "META"):
		return "meta"
	case l == "CONTENT" || l == "CONTENIDO":
		return "content"
	}
	return "title"
}

// heuristicSplit treats the first short line as the title and the rest as
// the body. Long first lines stay in the body and no title is returned.
func heuristicSplit(raw string) (string, string) {
	raw = strings.TrimSpace(raw)
	first, rest, _ := strings.Cut(raw, "\n")
	candidate := cleanTitle(first)
	if candidate == "" || utf8.RuneCountInString(candidate) >= headingMaxRunes || strings.TrimSpace(rest) == "" {
		return "", raw
	}
	return candidate, strings.TrimSpace(rest)
}

func cleanTitle(s string) string {
	s = text.PlainText(s)
	s = strings.TrimLeft(s, "# ")
	s = strings.Trim(s, "*_\"' ")
	return strings.TrimSpace(s)
}

func titleFromPhrase(phrase string) string {
	words := strings.Fields(phrase)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

func (g *Generator) renderBody(body string) string {
	body = strings.TrimSpace(body)
	switch {
	case body == "":
		return ""
	case htmlTags.MatchString(body):
		return demoteH1(body)
	case mdMarkers.MatchString(body):
		var buf bytes.Buffer
		if err := g.md.Convert([]byte(body), &buf); err == nil {
			return demoteH1(buf.String())
		}
	}
	return proseToHTML(body)
}

// proseToHTML applies the line rule: short lines that do not end a sentence
// become section headers, everything else a paragraph.
func proseToHTML(body string) string {
	var b strings.Builder
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		esc := html.EscapeString(line)
		if utf8.RuneCountInString(line) < headingMaxRunes && !strings.HasSuffix(line, ".") && !strings.HasSuffix(line, ":") {
			fmt.Fprintf(&b, "<h2>%s</h2>\n", esc)
		} else {
			fmt.Fprintf(&b, "<p>%s</p>\n", esc)
		}
	}
	return strings.TrimSpace(b.String())
}

func demoteH1(s string) string {
	s = h1Open.ReplaceAllString(s, "<h2>")
	return h1Close.ReplaceAllString(s, "</h2>")
}

// ensureStructure guarantees a section header, two paragraphs and a list
// or blockquote in the body.
func (g *Generator) ensureStructure(body, title, phrase string) string {
	if !h2Tag.MatchString(body) {
		body = fmt.Sprintf("<h2>%s</h2>\n%s", html.EscapeString(title), body)
	}

	closing := []string{
		fmt.Sprintf("These are the essentials of %s to keep in mind.", phrase),
		fmt.Sprintf("Revisit the sections above whenever you put %s into practice.", phrase),
	}
	for i := len(pTag.FindAllStringIndex(body, -1)); i < 2; i++ {
		body += "\n<p>" + html.EscapeString(closing[i]) + "</p>"
	}

	if !listTag.MatchString(body) {
		var items []string
		for _, m := range headings.FindAllStringSubmatch(body, -1) {
			if item := text.PlainText(m[1]); item != "" {
				items = append(items, item)
			}
		}
		if len(items) == 0 {
			items = []string{title}
		}
		var b strings.Builder
		b.WriteString("\n<h3>Key points</h3>\n<ul>")
		for _, item := range items {
			b.WriteString("<li>" + html.EscapeString(item) + "</li>")
		}
		b.WriteString("</ul>")
		body += b.String()
	}
	return body
}
