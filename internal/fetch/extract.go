package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// extractHTML reduces an HTML document to its title and readable text.
// Script, style, and chrome elements (nav, header, footer) are
// dropped; block boundaries become blank lines.
func extractHTML(raw string) (string, string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", stripTags(raw)
	}

	var w walker
	w.visit(doc)
	return strings.TrimSpace(w.title), collapseWhitespace(w.text.String())
}

// walker accumulates title and visible text in one DOM pass.
type walker struct {
	title string
	text  strings.Builder
}

func (w *walker) visit(n *html.Node) {
	switch n.Type {
	case html.ElementNode:
		// The head subtree is dropped, but the title inside it is
		// worth keeping.
		if n.DataAtom == atom.Head {
			if w.title == "" {
				w.title = titleIn(n)
			}
			return
		}
		if n.DataAtom == atom.Title && w.title == "" {
			w.title = textOf(n)
			return
		}
		if dropped(n.DataAtom) {
			return
		}
		if blockLevel(n.DataAtom) && w.text.Len() > 0 {
			w.text.WriteString("\n\n")
		}
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			w.text.WriteString(t)
			w.text.WriteByte(' ')
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.visit(c)
	}

	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		w.text.WriteByte('\n')
	}
}

// dropped reports whether an element's subtree carries no readable
// content. Head is dropped wholesale; the title is captured before
// this check applies.
func dropped(a atom.Atom) bool {
	switch a {
	case atom.Script, atom.Style, atom.Noscript, atom.Iframe, atom.Svg,
		atom.Head, atom.Nav, atom.Footer, atom.Header:
		return true
	}
	return false
}

func blockLevel(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table,
		atom.Tr, atom.Dl, atom.Dd, atom.Dt, atom.Figcaption, atom.Figure,
		atom.Details, atom.Summary, atom.Hr:
		return true
	}
	return false
}

// titleIn finds the first <title> under n.
func titleIn(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		return textOf(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := titleIn(c); t != "" {
			return t
		}
	}
	return ""
}

// textOf concatenates the text nodes under n.
func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textOf(c))
	}
	return b.String()
}

// collapseWhitespace squeezes space runs within lines and folds
// consecutive blank lines into one.
func collapseWhitespace(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// stripTags is the fallback for documents the parser rejects: keep
// text tokens, discard everything else.
func stripTags(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseWhitespace(b.String())
		case html.TextToken:
			b.WriteString(z.Token().Data)
			b.WriteByte(' ')
		}
	}
}
