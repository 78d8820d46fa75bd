package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/dgallion1/ragingest/internal/doctree"
)

// ErrNoImageData is returned for items the converter attached no image to.
var ErrNoImageData = errors.New("item has no image data")

// Renderer produces the image bytes persisted for a picture or table.
type Renderer interface {
	Render(item *doctree.Item, doc *doctree.Document) ([]byte, error)
}

// PNGRenderer decodes the item's embedded image and re-encodes it as PNG.
type PNGRenderer struct{}

func (PNGRenderer) Render(item *doctree.Item, _ *doctree.Document) ([]byte, error) {
	if len(item.Image) == 0 {
		return nil, fmt.Errorf("%s: %w", item.SelfRef, ErrNoImageData)
	}
	img, _, err := image.Decode(bytes.NewReader(item.Image))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", item.SelfRef, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode %s: %w", item.SelfRef, err)
	}
	return buf.Bytes(), nil
}
