package analysis

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	// ErrUnsupported is returned for documents whose type cannot be read.
	ErrUnsupported = errors.New("unsupported document type")
	// ErrInflateLimit is returned when compressed PDF streams expand past
	// the budget of the document.
	ErrInflateLimit = errors.New("decompressed content exceeds limit")
)

// A PDF may inflate to inflateRatio times its own size, clamped to
// [minInflated, maxInflated] bytes across all of its streams.
const (
	inflateRatio = 100
	minInflated  = 1 << 20
	maxInflated  = 64 << 20
)

// PageBreak separates pages in extracted text.
const PageBreak = "\f"

var extractors = map[string]func([]byte) (string, error){
	".txt":  plainText,
	".md":   plainText,
	".html": htmlText,
	".htm":  htmlText,
	".pdf":  pdfText,
}

// Supported reports whether documents with the extension can be extracted.
func Supported(ext string) bool {
	_, ok := extractors[strings.ToLower(ext)]
	return ok
}

// Extract returns the readable text of doc. Pages are separated by PageBreak
// when the format carries page information.
func Extract(doc Document) (string, error) {
	ext := strings.ToLower(filepath.Ext(doc.Name))
	fn, ok := extractors[ext]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	text, err := fn(doc.Data)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(strings.ReplaceAll(text, PageBreak, "")) == "" {
		return "", fmt.Errorf("no readable text found in %s", doc.Name)
	}
	return text, nil
}

func plainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), ""), nil
	}
	return string(data), nil
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Table: true,
}

func htmlText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Head, atom.Noscript:
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteString(" ")
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.DataAtom] && b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
		// <hr class="page-break"> or CSS page breaks mark a new page
		if n.Type == html.ElementNode && n.DataAtom == atom.Hr {
			for _, a := range n.Attr {
				if (a.Key == "class" && strings.Contains(a.Val, "page-break")) ||
					(a.Key == "style" && strings.Contains(a.Val, "page-break")) {
					b.WriteString(PageBreak)
				}
			}
		}
	}
	walk(doc)
	return b.String(), nil
}

var (
	pdfStream    = regexp.MustCompile(`(?s)stream\r?\n(.*?)\nendstream`)
	pdfTextBlock = regexp.MustCompile(`(?s)BT(.*?)ET`)
	pdfString    = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)\s*(?:Tj|'|")|\[((?:[^\]])*)\]\s*TJ`)
	pdfArrayPart = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)
	pdfNewline   = regexp.MustCompile(`T\*|Td|TD`)
)

// pdfText pulls literal strings out of the text objects of each content
// stream. Flate-compressed streams are inflated first. Each stream that
// yields text becomes one page.
func pdfText(data []byte) (string, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("%PDF")) {
		return "", fmt.Errorf("%w: missing PDF header", ErrUnsupported)
	}

	budget := min(max(int64(len(data))*inflateRatio, minInflated), maxInflated)
	var pages []string
	for _, m := range pdfStream.FindAllSubmatch(data, -1) {
		content := m[1]
		inflated, err := inflate(content, budget)
		switch {
		case errors.Is(err, ErrInflateLimit):
			return "", err
		case err == nil:
			content = inflated
			budget -= int64(len(inflated))
		}
		if page := pdfStreamText(content); strings.TrimSpace(page) != "" {
			pages = append(pages, page)
		}
	}
	return strings.Join(pages, PageBreak), nil
}

func inflate(b []byte, limit int64) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrInflateLimit, limit)
	}
	return out, nil
}

func pdfStreamText(content []byte) string {
	var b strings.Builder
	for _, block := range pdfTextBlock.FindAllSubmatch(content, -1) {
		ops := block[1]
		for _, line := range pdfNewline.Split(string(ops), -1) {
			var lineText strings.Builder
			for _, s := range pdfString.FindAllStringSubmatch(line, -1) {
				if s[1] != "" {
					lineText.WriteString(unescapePDF(s[1]))
					continue
				}
				for _, part := range pdfArrayPart.FindAllStringSubmatch(s[2], -1) {
					lineText.WriteString(unescapePDF(part[1]))
				}
			}
			if t := strings.TrimSpace(lineText.String()); t != "" {
				b.WriteString(t)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

var pdfEscapes = strings.NewReplacer(`\(`, "(", `\)`, ")", `\\`, `\`, `\n`, "\n", `\r`, "", `\t`, "\t")

func unescapePDF(s string) string {
	return pdfEscapes.Replace(s)
}
