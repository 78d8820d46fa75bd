package doctree

import "testing"

func sampleDoc() *Document {
	b := NewBuilder("sample.pdf", "Sample")
	h := b.Add(&Item{Label: LabelHeading, Text: "Intro", Level: 1})
	b.AddChild(h, &Item{Label: LabelText, Text: "First paragraph."})
	b.AddChild(h, &Item{Label: LabelPicture})
	b.Add(&Item{Label: LabelTable, Text: "a | b"})
	b.Add(&Item{Label: LabelText, Text: "Tail."})
	return b.Document()
}

func TestBuilder_AssignsRefsPerCollection(t *testing.T) {
	doc := sampleDoc()

	var refs []string
	doc.Walk(func(it *Item, _ int) bool {
		refs = append(refs, it.SelfRef)
		return true
	})

	want := []string{"#/texts/0", "#/texts/1", "#/pictures/0", "#/tables/0", "#/texts/2"}
	if len(refs) != len(want) {
		t.Fatalf("expected %d items, got %d (%v)", len(want), len(refs), refs)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("item %d: expected ref %q, got %q", i, want[i], refs[i])
		}
	}
}

func TestWalk_LevelsAndStop(t *testing.T) {
	doc := sampleDoc()

	var levels []int
	doc.Walk(func(it *Item, level int) bool {
		levels = append(levels, level)
		return it.Label != LabelPicture
	})

	want := []int{0, 1, 1}
	if len(levels) != len(want) {
		t.Fatalf("expected walk to stop after picture, visited %v", levels)
	}
	for i := range want {
		if levels[i] != want[i] {
			t.Errorf("level[%d]: expected %d, got %d", i, want[i], levels[i])
		}
	}
}

func TestResolve(t *testing.T) {
	doc := sampleDoc()
	if it := doc.Resolve("#/pictures/0"); it == nil || it.Label != LabelPicture {
		t.Fatalf("expected picture for #/pictures/0, got %+v", it)
	}
	if doc.Resolve("#/pictures/9") != nil {
		t.Error("expected nil for unknown ref")
	}
	if doc.Resolve("") != nil {
		t.Error("expected nil for empty ref")
	}
}

func TestPicturesAndTables(t *testing.T) {
	doc := sampleDoc()
	if n := len(doc.Pictures()); n != 1 {
		t.Errorf("expected 1 picture, got %d", n)
	}
	if n := len(doc.Tables()); n != 1 {
		t.Errorf("expected 1 table, got %d", n)
	}
}

func TestItem_TextBearing(t *testing.T) {
	tests := []struct {
		item Item
		want bool
	}{
		{Item{Label: LabelText, Text: "x"}, true},
		{Item{Label: LabelHeading, Text: "x"}, true},
		{Item{Label: LabelCaption, Text: "x"}, true},
		{Item{Label: LabelPicture}, false},
		{Item{Label: LabelTable}, false},
		{Item{Label: LabelTable, Text: "a | b"}, true},
		{Item{Label: LabelGroup}, false},
	}
	for _, tc := range tests {
		if got := tc.item.IsTextBearing(); got != tc.want {
			t.Errorf("%s (text=%q): expected %v, got %v", tc.item.Label, tc.item.Text, tc.want, got)
		}
	}
}
