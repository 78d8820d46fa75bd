package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/dgallion1/ragingest/internal/doctree"
)

func TestHTMLParser_StructureAndLabels(t *testing.T) {
	input := `<html><head><title>Guide</title></head><body>
<h1>Setup</h1>
<p>Install   the
tool.</p>
<ul><li>step one</li><li>step two</li></ul>
<h2>Usage</h2>
<pre>run --fast
run --slow</pre>
<table><tr><th>k</th><th>v</th></tr><tr><td>a</td><td>1</td></tr></table>
<script>ignored()</script>
</body></html>`

	p := &HTMLParser{}
	doc, err := p.Parse(strings.NewReader(input), "guide.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "Guide" {
		t.Errorf("expected title from <title>, got %q", doc.Title)
	}

	var labels []doctree.Label
	var texts []string
	doc.Walk(func(it *doctree.Item, _ int) bool {
		labels = append(labels, it.Label)
		texts = append(texts, it.Text)
		return true
	})

	want := []doctree.Label{
		doctree.LabelHeading, doctree.LabelText, doctree.LabelListItem, doctree.LabelListItem,
		doctree.LabelHeading, doctree.LabelCode, doctree.LabelTable,
	}
	if len(labels) != len(want) {
		t.Fatalf("expected %d items, got %d: %v", len(want), len(labels), labels)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("item %d: expected label %s, got %s", i, want[i], labels[i])
		}
	}
	if texts[1] != "Install the tool." {
		t.Errorf("expected collapsed whitespace, got %q", texts[1])
	}
	if texts[5] != "run --fast\nrun --slow" {
		t.Errorf("expected preformatted text kept, got %q", texts[5])
	}
	if texts[6] != "k | v\na | 1" {
		t.Errorf("unexpected table text %q", texts[6])
	}
}

func TestHTMLParser_LooseTextIgnored(t *testing.T) {
	input := `<body>loose [[IMG:image_00000000]] <p>kept</p> tail</body>`
	doc, err := (&HTMLParser{}).Parse(strings.NewReader(input), "page.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Body) != 1 || doc.Body[0].Text != "kept" {
		t.Fatalf("expected only the paragraph, got %+v", doc.Body)
	}
}

func TestHTMLParser_FigureCaption(t *testing.T) {
	input := `<body><figure><img src="data:image/png;base64,iVBORw0KGgo=" alt="logo"><figcaption>Our logo</figcaption></figure></body>`
	doc, err := (&HTMLParser{}).Parse(strings.NewReader(input), "f.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pics := doc.Pictures()
	if len(pics) != 1 {
		t.Fatalf("expected 1 picture, got %d", len(pics))
	}
	pic := pics[0]
	if len(pic.Image) == 0 {
		t.Error("expected data URI to be decoded")
	}
	if pic.Description != "logo" {
		t.Errorf("expected alt as description, got %q", pic.Description)
	}
	c := doc.Resolve(pic.CaptionRef)
	if c == nil || c.Label != doctree.LabelCaption || c.Text != "Our logo" {
		t.Errorf("expected caption item, got %+v", c)
	}
}

func TestHTMLParser_FigureWithoutImageKeepsText(t *testing.T) {
	input := `<body><figure> [[IMG:image_ab12cd34]] <figcaption>Figure 1 overview</figcaption></figure></body>`
	doc, err := (&HTMLParser{}).Parse(strings.NewReader(input), "wiki.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Pictures()) != 0 {
		t.Errorf("expected no picture items, got %d", len(doc.Pictures()))
	}
	if len(doc.Body) != 1 || doc.Body[0].Label != doctree.LabelCaption {
		t.Fatalf("expected one caption item, got %+v", doc.Body)
	}
	text := doc.Body[0].Text
	if !strings.Contains(text, "[[IMG:image_ab12cd34]]") || !strings.Contains(text, "Figure 1 overview") {
		t.Errorf("expected marker and caption text, got %q", text)
	}
}

func TestHTMLParser_InlineImageNestedUnderParagraph(t *testing.T) {
	input := `<body><p>See <img src="https://x/y.png"> here</p></body>`
	doc, err := (&HTMLParser{}).Parse(strings.NewReader(input), "i.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Body) != 1 {
		t.Fatalf("expected 1 top-level item, got %d", len(doc.Body))
	}
	para := doc.Body[0]
	if len(para.Children) != 1 || para.Children[0].Source != "https://x/y.png" {
		t.Fatalf("expected picture child with source, got %+v", para.Children)
	}
}

func TestSplitParagraphs(t *testing.T) {
	got := splitParagraphs("  line a\nline b\n\n\n line c \n")
	if len(got) != 2 || got[0] != "line a\nline b" || got[1] != "line c" {
		t.Errorf("unexpected paragraphs %q", got)
	}
}

func TestBuildPDFDocument_PageProvenance(t *testing.T) {
	doc := buildPDFDocument("report.pdf", []string{"one\n\ntwo", "", "three"})
	if doc.Title != "report" {
		t.Errorf("expected title %q, got %q", "report", doc.Title)
	}
	wantPages := []int{1, 1, 3}
	if len(doc.Body) != len(wantPages) {
		t.Fatalf("expected %d items, got %d", len(wantPages), len(doc.Body))
	}
	for i, it := range doc.Body {
		if it.Prov[0].Page != wantPages[i] {
			t.Errorf("item %d: expected page %d, got %d", i, wantPages[i], it.Prov[0].Page)
		}
	}
}

func TestConvert_UnsupportedExtension(t *testing.T) {
	_, err := Convert(strings.NewReader("x"), "data.xlsx")
	if !errors.Is(err, ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

func TestPDFParser_BrokenInput(t *testing.T) {
	_, err := (&PDFParser{}).Parse(strings.NewReader("not a pdf"), "bad.pdf")
	if err == nil {
		t.Fatal("expected error for invalid pdf")
	}
}

func TestIsSupportedExtension(t *testing.T) {
	for _, name := range []string{"a.pdf", "B.DOCX", "c.md", "d.htm", "e.txt"} {
		if !IsSupportedExtension(name) {
			t.Errorf("expected %s supported", name)
		}
	}
	if IsSupportedExtension("f.exe") {
		t.Error("expected .exe unsupported")
	}
}
