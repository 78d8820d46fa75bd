package parser

import (
	"bytes"
	"io"
	"strings"

	"github.com/dgallion1/ragingest/internal/doctree"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser handles Markdown files using goldmark.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(src))

	b := doctree.NewBuilder(filename, trimExt(filename, ".md", ".markdown"))
	var sp spans

	// Content nests under the closest open heading of a lower level.
	type stackEntry struct {
		item  *doctree.Item
		level int
	}
	var stack []stackEntry

	add := func(it *doctree.Item) *doctree.Item {
		if len(stack) == 0 {
			return b.Add(it)
		}
		return b.AddChild(stack[len(stack)-1].item, it)
	}

	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			title := strings.TrimSpace(string(node.Text(src)))
			if title == "" {
				continue
			}
			for len(stack) > 0 && stack[len(stack)-1].level >= node.Level {
				stack = stack[:len(stack)-1]
			}
			h := add(&doctree.Item{
				Label: doctree.LabelHeading,
				Text:  title,
				Level: node.Level,
				Prov:  sp.next(0, title),
			})
			stack = append(stack, stackEntry{item: h, level: node.Level})

		case *ast.List:
			for li := node.FirstChild(); li != nil; li = li.NextSibling() {
				t := extractText(li, src)
				if t == "" {
					continue
				}
				it := add(&doctree.Item{Label: doctree.LabelListItem, Text: t, Prov: sp.next(0, t)})
				addImages(b, it, li, src)
			}

		case *ast.FencedCodeBlock, *ast.CodeBlock:
			t := extractText(n, src)
			if t != "" {
				add(&doctree.Item{Label: doctree.LabelCode, Text: t, Prov: sp.next(0, t)})
			}

		default:
			t := extractText(n, src)
			imgs := collectImages(n, src)
			if t == "" && len(imgs) == 0 {
				continue
			}
			if t == "" {
				// A paragraph holding only an image becomes a bare picture.
				for _, img := range imgs {
					img.Prov = []doctree.Provenance{{Page: 0, CharStart: sp.offset, CharEnd: sp.offset}}
					add(img)
				}
				continue
			}
			it := add(&doctree.Item{Label: doctree.LabelText, Text: t, Prov: sp.next(0, t)})
			for _, img := range imgs {
				img.Prov = it.Prov
				b.AddChild(it, img)
			}
		}
	}

	return b.Document(), nil
}

func addImages(b *doctree.Builder, parent *doctree.Item, n ast.Node, src []byte) {
	for _, img := range collectImages(n, src) {
		img.Prov = parent.Prov
		b.AddChild(parent, img)
	}
}

// collectImages turns inline images into picture items that point at their destination.
func collectImages(n ast.Node, src []byte) []*doctree.Item {
	var out []*doctree.Item
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if img, ok := c.(*ast.Image); ok {
			out = append(out, &doctree.Item{
				Label:       doctree.LabelPicture,
				Source:      string(img.Destination),
				Description: strings.TrimSpace(string(img.Text(src))),
			})
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return out
}

// extractText gets the text content of a goldmark AST node. Image alt text is left out.
func extractText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	if n.Type() == ast.TypeBlock && n.ChildCount() == 0 {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			buf.Write(line.Value(src))
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Image:
			continue
		case *ast.Text:
			buf.Write(t.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(t.Value)
		default:
			if c.Type() == ast.TypeBlock && buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(extractText(c, src))
		}
	}
	return strings.TrimSpace(buf.String())
}
