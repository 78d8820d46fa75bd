package crawl

import (
	"bytes"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/dgallion1/ragingest/internal/caption"
	"github.com/google/uuid"
	"golang.org/x/net/html"
)

const (
	siblingContextLen = 200
	maxContextLen     = 500
)

var contextTags = map[string]bool{"p": true, "div": true, "span": true, "h1": true, "h2": true, "li": true}

var containerTags = map[string]bool{"figure": true, "figcaption": true, "div": true}

// Preprocessor replaces the images of a page body with markers and collects
// an ImageChunk for each of them.
type Preprocessor struct {
	BaseURL  string
	ImageDir string
	// NewID returns the 8 hex characters of an image chunk id.
	NewID func() string
}

func newImageID() string {
	return uuid.NewString()[:8]
}

// Process rewrites body and returns it with the images found, in document order.
// Images without a src are left untouched.
func (p *Preprocessor) Process(body, pageID string) (string, []*ImageChunk, error) {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("parse page %s: %w", pageID, err)
	}
	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return "", nil, fmt.Errorf("parse base url: %w", err)
	}
	newID := p.NewID
	if newID == nil {
		newID = newImageID
	}

	var images []*ImageChunk
	for i, img := range imgNodes(root) {
		src := attrOf(img, "src")
		if src == "" {
			continue
		}
		full := src
		if ref, err := url.Parse(src); err == nil {
			full = base.ResolveReference(ref).String()
		}
		filename := fmt.Sprintf("img_%s_%03d.png", pageID, i)
		context := imageContext(img)

		ic := &ImageChunk{
			ChunkType:   TypeImage,
			ID:          "image_" + newID(),
			Filename:    filename,
			ImageURL:    full,
			LocalPath:   filepath.Join(p.ImageDir, filename),
			ContextText: context,
			LLMPrompt:   caption.BuildImagePrompt(context),
			TextRefs:    []string{},
			Metadata:    ImageMetadata{PageID: pageID, OriginalSrc: src},
		}
		images = append(images, ic)

		img.Parent.InsertBefore(&html.Node{Type: html.TextNode, Data: " " + Marker(ic.ID) + " "}, img)
		img.Parent.RemoveChild(img)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", nil, fmt.Errorf("render page %s: %w", pageID, err)
	}
	return buf.String(), images, nil
}

// imageContext gathers the neighbouring text of an image: the nearest
// text-bearing siblings, an enclosing container that is not the direct
// parent, and the alt text.
func imageContext(img *html.Node) string {
	var parts []string
	if prev := sibling(img, false); prev != nil {
		parts = append(parts, cut(strippedText(prev), siblingContextLen))
	}
	if next := sibling(img, true); next != nil {
		parts = append(parts, cut(strippedText(next), siblingContextLen))
	}
	for n := img.Parent; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && containerTags[n.Data] {
			if n != img.Parent {
				if t := cut(strippedText(n), siblingContextLen); t != "" {
					parts = append(parts, t)
				}
			}
			break
		}
	}
	if alt := attrOf(img, "alt"); alt != "" {
		parts = append(parts, alt)
	}
	return cut(strings.Join(parts, " "), maxContextLen)
}

func sibling(n *html.Node, forward bool) *html.Node {
	step := func(n *html.Node) *html.Node {
		if forward {
			return n.NextSibling
		}
		return n.PrevSibling
	}
	for s := step(n); s != nil; s = step(s) {
		if s.Type == html.ElementNode && contextTags[s.Data] {
			return s
		}
	}
	return nil
}

// strippedText concatenates the trimmed text nodes under n.
func strippedText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func imgNodes(n *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "img" {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func attrOf(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func cut(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
