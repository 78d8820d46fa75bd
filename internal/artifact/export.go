package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/dgallion1/ragingest/internal/doctree"
)

// ExportAll writes every picture and table carrying image data as
// picture-<n>.png or table-<n>.png under dir, numbering each kind from 1 in
// document order. Re-running overwrites the same names. Artifacts that fail
// to render or persist are logged and skipped; their number is returned.
// The error is non-nil only when ctx ends.
func ExportAll(ctx context.Context, doc *doctree.Document, r Renderer, sink Sink, dir string, log *slog.Logger) ([]string, int, error) {
	if log == nil {
		log = slog.Default()
	}
	var refs []string
	pictures, tables, failures := 0, 0, 0
	var ctxErr error

	doc.Walk(func(it *doctree.Item, _ int) bool {
		if !it.IsArtifact() {
			return true
		}
		var name string
		if it.Label == doctree.LabelPicture {
			pictures++
			name = fmt.Sprintf("picture-%d.png", pictures)
		} else {
			tables++
			name = fmt.Sprintf("table-%d.png", tables)
		}
		if len(it.Image) == 0 {
			return true
		}
		if err := ctx.Err(); err != nil {
			ctxErr = err
			return false
		}

		data, err := r.Render(it, doc)
		if err == nil {
			var ref string
			ref, err = sink.Put(ctx, path.Join(dir, name), data)
			if err == nil {
				refs = append(refs, ref)
				return true
			}
		}
		failures++
		log.Warn("artifact export skipped", "name", name, "ref", it.SelfRef, "error", err)
		return true
	})
	return refs, failures, ctxErr
}
