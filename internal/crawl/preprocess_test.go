package crawl

import (
	"strings"
	"testing"
)

func TestPreprocess_ReplacesImages(t *testing.T) {
	p := &Preprocessor{
		BaseURL:  "https://acme.atlassian.net/wiki",
		ImageDir: "/out/images",
		NewID:    func() string { return "deadbeef" },
	}
	body := `<p>Before</p><img alt="no src"><div><img src="/x.png" alt="chart"></div><p>After</p>`
	out, images, err := p.Process(body, "7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(images))
	}
	img := images[0]
	if img.Filename != "img_7_001.png" {
		t.Errorf("expected index among all img tags, got %q", img.Filename)
	}
	if img.LocalPath != "/out/images/img_7_001.png" {
		t.Errorf("unexpected local path %q", img.LocalPath)
	}
	if img.ImageURL != "https://acme.atlassian.net/x.png" || img.Metadata.OriginalSrc != "/x.png" {
		t.Errorf("unexpected urls %+v", img)
	}
	if !strings.Contains(out, " [[IMG:image_deadbeef]] ") {
		t.Errorf("expected marker in output, got %s", out)
	}
	if strings.Contains(out, `src="/x.png"`) {
		t.Errorf("expected img tag removed, got %s", out)
	}
	if !strings.Contains(out, `alt="no src"`) {
		t.Errorf("expected src-less img kept, got %s", out)
	}
	if img.ContextText != "chart" {
		t.Errorf("expected alt-only context for nested img, got %q", img.ContextText)
	}
	if !strings.Contains(img.LLMPrompt, `"chart..."`) {
		t.Errorf("unexpected prompt %q", img.LLMPrompt)
	}
}

func TestImageContext_SiblingsAndContainer(t *testing.T) {
	p := &Preprocessor{BaseURL: "https://w/wiki", NewID: func() string { return "00000000" }}
	long := strings.Repeat("a", 300)
	body := `<figure><div><p>` + long + `</p><img src="i.png" alt="alt"><span>next</span></div></figure>`
	_, images, err := p.Process(body, "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := images[0].ContextText
	parts := strings.Split(ctx, " ")
	if len(parts) != 3 {
		t.Fatalf("expected prev, next and alt parts, got %q", ctx)
	}
	if len(parts[0]) != 200 || parts[1] != "next" || parts[2] != "alt" {
		t.Errorf("unexpected context parts %q", parts)
	}
}
