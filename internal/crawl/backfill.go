package crawl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dgallion1/ragingest/internal/doctree"
)

const markerPrefix = "[[IMG:"

var markerPattern = regexp.MustCompile(`\[\[IMG:(image_[0-9a-f]+)\]\]`)

// Marker returns the placeholder that stands in for an image in page text.
func Marker(imageID string) string {
	return markerPrefix + imageID + "]]"
}

// Backfill turns segmented chunks into text chunks, strips their image
// markers and links each referenced image back to the text chunk.
// Chunks with neither text nor markers are dropped.
func Backfill(chunks []doctree.Chunk, images []*ImageChunk, meta PageMetadata) []*TextChunk {
	byID := make(map[string]*ImageChunk, len(images))
	for _, img := range images {
		byID[img.ID] = img
	}

	var out []*TextChunk
	for _, c := range chunks {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		refs := []string{}
		for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
			refs = append(refs, m[1])
		}
		clean := strings.TrimSpace(markerPattern.ReplaceAllString(text, ""))
		if clean == "" && len(refs) == 0 {
			continue
		}

		tc := &TextChunk{
			ChunkType:    TypeText,
			ID:           fmt.Sprintf("text_%d_%s", len(out), meta.PageID),
			Content:      clean,
			AllImageRefs: refs,
			PageMetadata: TextPageMetadata{PageMetadata: meta, CharCount: len([]rune(clean))},
		}
		if len(refs) > 0 {
			first := refs[0]
			tc.ImageRef = &first
		}
		for _, ref := range refs {
			if img, ok := byID[ref]; ok {
				img.TextRefs = append(img.TextRefs, tc.ID)
			}
		}
		out = append(out, tc)
	}
	return out
}
