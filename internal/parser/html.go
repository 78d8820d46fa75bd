package parser

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/ragingest/internal/doctree"
	"golang.org/x/net/html"
)

// HTMLParser handles HTML files and preprocessed wiki page bodies.
// Loose text outside block elements is ignored.
type HTMLParser struct{}

func (p *HTMLParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := trimExt(filename, ".html", ".htm")
	if t := findTitle(root); t != "" {
		title = t
	}

	b := doctree.NewBuilder(filename, title)
	var sp spans

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
	addText := func(label doctree.Label, t string) *doctree.Item {
		return add(&doctree.Item{Label: label, Text: t, Prov: sp.next(0, t)})
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if level := headingLevel(n.Data); level > 0 {
				t := textContent(n)
				if t == "" {
					return
				}
				for len(stack) > 0 && stack[len(stack)-1].level >= level {
					stack = stack[:len(stack)-1]
				}
				h := add(&doctree.Item{Label: doctree.LabelHeading, Text: t, Level: level, Prov: sp.next(0, t)})
				stack = append(stack, stackEntry{item: h, level: level})
				return
			}

			switch n.Data {
			case "script", "style", "nav", "footer", "header", "title":
				return
			case "p", "blockquote":
				t := textContent(n)
				if t == "" {
					break
				}
				para := addText(doctree.LabelText, t)
				for _, img := range findAll(n, "img") {
					if pic := pictureItem(img); pic.Image != nil || pic.Source != "" {
						pic.Prov = para.Prov
						b.AddChild(para, pic)
					}
				}
				return
			case "li":
				if t := textContent(n); t != "" {
					addText(doctree.LabelListItem, t)
				}
				return
			case "pre":
				if t := strings.TrimSpace(rawText(n)); t != "" {
					addText(doctree.LabelCode, t)
				}
				return
			case "table":
				t := tableText(n)
				add(&doctree.Item{Label: doctree.LabelTable, Text: t, Prov: sp.next(0, t)})
				return
			case "figure":
				img := findElement(n, "img")
				figcap := findElement(n, "figcaption")
				if img == nil {
					// Confluence figures carry the image as a marker next to the caption.
					if t := textContent(n); t != "" {
						addText(doctree.LabelCaption, t)
					}
					return
				}
				pic := pictureItem(img)
				pic.Prov = sp.next(0, "")
				add(pic)
				if figcap != nil {
					if t := textContent(figcap); t != "" {
						c := addText(doctree.LabelCaption, t)
						pic.CaptionRef = c.SelfRef
					}
				}
				return
			case "img":
				pic := pictureItem(n)
				if pic.Image == nil && pic.Source == "" {
					return
				}
				pic.Prov = sp.next(0, "")
				add(pic)
				return
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	if body := findElement(root, "body"); body != nil {
		walk(body)
	} else {
		walk(root)
	}

	return b.Document(), nil
}

// pictureItem builds a picture from an img tag. Inline data URIs are decoded.
func pictureItem(n *html.Node) *doctree.Item {
	it := &doctree.Item{Label: doctree.LabelPicture, Description: attr(n, "alt")}
	src := attr(n, "src")
	if strings.HasPrefix(src, "data:") {
		if i := strings.Index(src, ";base64,"); i > 0 {
			if data, err := base64.StdEncoding.DecodeString(src[i+len(";base64,"):]); err == nil {
				it.Image = data
				return it
			}
		}
		return it
	}
	it.Source = src
	return it
}

func tableText(n *html.Node) string {
	var rows []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, textContent(c))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, strings.Join(cells, " | "))
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(rows, "\n")
}

func headingLevel(tag string) int {
	switch tag {
	case "h1":
		return 1
	case "h2":
		return 2
	case "h3":
		return 3
	case "h4":
		return 4
	case "h5":
		return 5
	case "h6":
		return 6
	}
	return 0
}

// textContent returns the element's text with whitespace runs collapsed.
func textContent(n *html.Node) string {
	return strings.Join(strings.Fields(rawText(n)), " ")
}

func rawText(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return buf.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findTitle(n *html.Node) string {
	if t := findElement(n, "title"); t != nil {
		return textContent(t)
	}
	return ""
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			out = append(out, c)
			continue
		}
		out = append(out, findAll(c, tag)...)
	}
	return out
}
