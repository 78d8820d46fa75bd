package crawl

// Record is one element of a crawl result: a *TextChunk or an *ImageChunk.
type Record interface {
	ChunkID() string
}

const (
	TypeText  = "text"
	TypeImage = "image"
)

// PageMetadata locates a chunk in the page tree.
type PageMetadata struct {
	PageID      string `json:"page_id"`
	PageTitle   string `json:"page_title"`
	ParentTitle string `json:"parent_title"`
	PageURL     string `json:"page_url"`
	PageDepth   int    `json:"page_depth"`
}

type TextPageMetadata struct {
	PageMetadata
	CharCount int `json:"char_count"`
}

// TextChunk is a piece of page text with the images it mentions.
type TextChunk struct {
	ChunkType    string           `json:"chunk_type"`
	ID           string           `json:"chunk_id"`
	Content      string           `json:"content"`
	ImageRef     *string          `json:"image_ref"`
	AllImageRefs []string         `json:"all_image_refs"`
	PageMetadata TextPageMetadata `json:"page_metadata"`
}

func (c *TextChunk) ChunkID() string { return c.ID }

type ImageMetadata struct {
	PageID      string `json:"page_id"`
	OriginalSrc string `json:"original_src"`
}

// ImageChunk is an image found on a page, linked back to the text chunks
// that mention it.
type ImageChunk struct {
	ChunkType      string        `json:"chunk_type"`
	ID             string        `json:"chunk_id"`
	Filename       string        `json:"filename"`
	ImageURL       string        `json:"image_url"`
	LocalPath      string        `json:"local_path"`
	ContextText    string        `json:"context_text"`
	LLMPrompt      string        `json:"llm_prompt"`
	LLMDescription *string       `json:"llm_description"`
	TextRefs       []string      `json:"text_refs"`
	Metadata       ImageMetadata `json:"metadata"`
	PageMetadata   *PageMetadata `json:"page_metadata,omitempty"`
}

func (c *ImageChunk) ChunkID() string { return c.ID }
