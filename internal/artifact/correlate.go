package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/dgallion1/ragingest/internal/doctree"
	"github.com/google/uuid"
)

// NoCaption is recorded for artifacts without a resolvable caption.
const NoCaption = "No caption"

// Attribution records which artifacts have already been claimed by a chunk
// during one correlation run, and which references were emitted. It must not
// be shared between runs.
type Attribution struct {
	claimed map[string]bool
	refs    map[string]bool
}

func NewAttribution() *Attribution {
	return &Attribution{claimed: make(map[string]bool), refs: make(map[string]bool)}
}

// Claim marks ref as attributed and reports whether this call claimed it.
func (a *Attribution) Claim(ref string) bool {
	if a.claimed[ref] {
		return false
	}
	a.claimed[ref] = true
	return true
}

// ClaimRef marks an emitted image reference and reports whether it is new.
func (a *Attribution) ClaimRef(ref string) bool {
	if a.refs[ref] {
		return false
	}
	a.refs[ref] = true
	return true
}

// Len returns the number of attributed artifacts.
func (a *Attribution) Len() int { return len(a.claimed) }

// Correlator attaches pictures and tables to the chunks that first reference them.
type Correlator struct {
	Renderer Renderer
	Sink     Sink
	// Dir namespaces artifact keys, usually the sanitized source filename.
	Dir string
	// Suffix generates the short unique part of artifact file names.
	Suffix func() string
	Log    *slog.Logger
}

// NewCorrelator returns a correlator that renders PNGs into sink under dir.
func NewCorrelator(sink Sink, dir string, log *slog.Logger) *Correlator {
	return &Correlator{
		Renderer: PNGRenderer{},
		Sink:     sink,
		Dir:      dir,
		Suffix:   shortID,
		Log:      log,
	}
}

func shortID() string {
	return uuid.NewString()[:8]
}

// Correlate fills in Artifacts for each chunk. Every artifact is attributed to
// the first chunk in order that references it and rendered at most once.
// It returns the number of artifacts that failed to render or persist.
func (c *Correlator) Correlate(ctx context.Context, doc *doctree.Document, chunks []doctree.Chunk, attr *Attribution) int {
	log := c.Log
	if log == nil {
		log = slog.Default()
	}
	captioned := captionOwners(doc)
	deferred := captionedInChunks(chunks, captioned)

	failures := 0
	for i := range chunks {
		if ctx.Err() != nil {
			return failures
		}
		chunk := &chunks[i]
		meta := doctree.ArtifactMetadata{}
		for _, it := range referenced(chunk, captioned, deferred) {
			if !attr.Claim(it.SelfRef) {
				continue
			}
			if !c.attach(ctx, doc, it, &meta, attr, log) {
				failures++
			}
		}
		meta.HasImages = len(meta.ImageReferences) > 0
		chunk.Artifacts = meta
	}
	return failures
}

// attach records one newly attributed artifact and reports false on a render or write failure.
func (c *Correlator) attach(ctx context.Context, doc *doctree.Document, it *doctree.Item, meta *doctree.ArtifactMetadata, attr *Attribution, log *slog.Logger) bool {
	isTable := it.Label == doctree.LabelTable
	if isTable {
		meta.TableCount++
		if len(it.Image) == 0 {
			// Tables without a rendered image stay text only.
			return true
		}
	}

	var ref string
	if !isTable && len(it.Image) == 0 && it.Source != "" {
		ref = it.Source
	} else {
		var err error
		ref, err = c.save(ctx, doc, it)
		if err != nil {
			meta.RenderErrors++
			log.Warn("artifact skipped", "ref", it.SelfRef, "error", err)
			return false
		}
	}

	if !attr.ClaimRef(ref) {
		// Another artifact of this run already points at the same file.
		return true
	}
	if !isTable {
		meta.ImageCount++
	}
	meta.ImageReferences = append(meta.ImageReferences, ref)
	meta.ImageDescriptions = append(meta.ImageDescriptions, it.Description)
	meta.FigureCaptions = append(meta.FigureCaptions, captionText(doc, it))
	return true
}

func (c *Correlator) save(ctx context.Context, doc *doctree.Document, it *doctree.Item) (string, error) {
	data, err := c.Renderer.Render(it, doc)
	if err != nil {
		return "", err
	}
	suffix := shortID
	if c.Suffix != nil {
		suffix = c.Suffix
	}
	name := fmt.Sprintf("p%d_%s.png", firstPage(it), suffix())
	return c.Sink.Put(ctx, path.Join(c.Dir, name), data)
}

// referenced lists the artifacts a chunk points at, in order: artifacts among
// its source items and their children, artifacts whose caption is a source
// item, then the artifacts met while the chunk was open. Trailing artifacts
// whose caption belongs to some chunk are left to that chunk.
func referenced(chunk *doctree.Chunk, captioned map[string][]*doctree.Item, deferred map[string]bool) []*doctree.Item {
	var out []*doctree.Item
	for _, src := range chunk.SourceItems {
		if src.IsArtifact() {
			out = append(out, src)
		}
		for _, child := range src.Children {
			if child.IsArtifact() {
				out = append(out, child)
			}
		}
		out = append(out, captioned[src.SelfRef]...)
	}
	for _, it := range chunk.Refs {
		if !deferred[it.SelfRef] {
			out = append(out, it)
		}
	}
	return out
}

// captionedInChunks returns the artifacts whose caption is a source item of
// one of chunks.
func captionedInChunks(chunks []doctree.Chunk, captioned map[string][]*doctree.Item) map[string]bool {
	out := make(map[string]bool)
	for i := range chunks {
		for _, src := range chunks[i].SourceItems {
			for _, it := range captioned[src.SelfRef] {
				out[it.SelfRef] = true
			}
		}
	}
	return out
}

// captionOwners maps a caption's SelfRef to the artifacts it captions.
func captionOwners(doc *doctree.Document) map[string][]*doctree.Item {
	owners := make(map[string][]*doctree.Item)
	doc.Walk(func(it *doctree.Item, _ int) bool {
		if it.IsArtifact() && it.CaptionRef != "" {
			owners[it.CaptionRef] = append(owners[it.CaptionRef], it)
		}
		return true
	})
	return owners
}

func captionText(doc *doctree.Document, it *doctree.Item) string {
	if c := doc.Resolve(it.CaptionRef); c != nil && c.Text != "" {
		return c.Text
	}
	return NoCaption
}

func firstPage(it *doctree.Item) int {
	if len(it.Prov) > 0 && it.Prov[0].Page > 0 {
		return it.Prov[0].Page
	}
	return 0
}
