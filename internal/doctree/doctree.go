package doctree

import "fmt"

// Label classifies a structural item.
type Label string

const (
	LabelTitle    Label = "title"
	LabelHeading  Label = "section_header"
	LabelText     Label = "text"
	LabelListItem Label = "list_item"
	LabelCaption  Label = "caption"
	LabelCode     Label = "code"
	LabelPicture  Label = "picture"
	LabelTable    Label = "table"
	LabelGroup    Label = "group"
)

// Provenance locates an item in the source document.
type Provenance struct {
	Page      int // 1-based page number, 0 when the source has no pages
	CharStart int
	CharEnd   int
}

// Item is a node in a converted document's content tree.
type Item struct {
	Label   Label
	SelfRef string // unique within the document, e.g. "#/texts/3"
	Prov    []Provenance

	Text  string
	Level int // heading level, 0 for non-headings

	// CaptionRef points at the caption item of a picture or table.
	CaptionRef string
	// Image holds the encoded image of a picture or table, if the converter produced one.
	Image []byte
	// Source is the external location of a picture that has no embedded image.
	Source string
	// Description is an annotation attached to a picture by the converter.
	Description string

	Children []*Item
}

// IsArtifact reports whether the item renders to an image file.
func (it *Item) IsArtifact() bool {
	return it.Label == LabelPicture || it.Label == LabelTable
}

// IsTextBearing reports whether the item contributes text to a chunk.
func (it *Item) IsTextBearing() bool {
	switch it.Label {
	case LabelPicture, LabelGroup:
		return false
	case LabelTable:
		return it.Text != ""
	}
	return true
}

// IsHeading reports whether the item is a title or section heading.
func (it *Item) IsHeading() bool {
	return it.Label == LabelHeading || it.Label == LabelTitle
}

// Document is the structured model produced by a converter.
type Document struct {
	Name  string // source file name or synthesized id
	Title string
	Body  []*Item

	index map[string]*Item
}

// Walk visits every item depth-first in document order. Returning false stops the walk.
func (d *Document) Walk(fn func(it *Item, level int) bool) {
	var walk func(items []*Item, level int) bool
	walk = func(items []*Item, level int) bool {
		for _, it := range items {
			if !fn(it, level) {
				return false
			}
			if !walk(it.Children, level+1) {
				return false
			}
		}
		return true
	}
	walk(d.Body, 0)
}

// Resolve looks an item up by its SelfRef.
func (d *Document) Resolve(ref string) *Item {
	if ref == "" {
		return nil
	}
	if d.index == nil {
		d.index = make(map[string]*Item)
		d.Walk(func(it *Item, _ int) bool {
			if it.SelfRef != "" {
				d.index[it.SelfRef] = it
			}
			return true
		})
	}
	return d.index[ref]
}

// Pictures returns all picture items in document order.
func (d *Document) Pictures() []*Item { return d.byLabel(LabelPicture) }

// Tables returns all table items in document order.
func (d *Document) Tables() []*Item { return d.byLabel(LabelTable) }

func (d *Document) byLabel(l Label) []*Item {
	var out []*Item
	d.Walk(func(it *Item, _ int) bool {
		if it.Label == l {
			out = append(out, it)
		}
		return true
	})
	return out
}

// Builder assigns docling-style self references while a converter appends items.
type Builder struct {
	doc      *Document
	counters map[string]int
}

func NewBuilder(name, title string) *Builder {
	return &Builder{
		doc:      &Document{Name: name, Title: title},
		counters: make(map[string]int),
	}
}

// Add appends a top-level item and returns it.
func (b *Builder) Add(it *Item) *Item {
	b.ref(it)
	b.doc.Body = append(b.doc.Body, it)
	return it
}

// AddChild appends it beneath parent.
func (b *Builder) AddChild(parent, it *Item) *Item {
	b.ref(it)
	parent.Children = append(parent.Children, it)
	return it
}

func (b *Builder) ref(it *Item) {
	if it.SelfRef != "" {
		return
	}
	coll := "texts"
	switch it.Label {
	case LabelPicture:
		coll = "pictures"
	case LabelTable:
		coll = "tables"
	case LabelGroup:
		coll = "groups"
	}
	it.SelfRef = fmt.Sprintf("#/%s/%d", coll, b.counters[coll])
	b.counters[coll]++
}

// Document returns the built document.
func (b *Builder) Document() *Document {
	return b.doc
}

// Chunk is a bounded segment of a document with its structural context.
type Chunk struct {
	ID          string
	Index       int     // sequence number within the document
	Text        string
	SourceItems []*Item // text-bearing items, in document order
	Refs        []*Item // non-text items met while the chunk was open
	PageNumbers []int   // sorted, distinct
	Title       string  // nearest preceding heading

	// ProvenanceErr is set when page or title lookup failed and defaults were used.
	ProvenanceErr bool

	Artifacts ArtifactMetadata
}

// ArtifactMetadata describes the images and tables first introduced by a chunk.
type ArtifactMetadata struct {
	HasImages         bool
	ImageCount        int
	TableCount        int
	ImageReferences   []string
	ImageDescriptions []string
	FigureCaptions    []string
	RenderErrors      int
}
