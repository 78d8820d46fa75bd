package caption

import (
	"fmt"
	"strings"
)

const contextPreview = 150

// BuildImagePrompt asks for a technical description of an image, quoting the
// start of the text found around it on the page.
func BuildImagePrompt(context string) string {
	preview := []rune(strings.TrimSpace(context))
	if len(preview) > contextPreview {
		preview = preview[:contextPreview]
	}
	var sb strings.Builder
	sb.WriteString("Describe this technical image/diagram in detail.\n")
	sb.WriteString(fmt.Sprintf("Context from surrounding text: \"%s...\"\n", string(preview)))
	sb.WriteString("Focus on charts, diagrams, code, technical content.")
	return sb.String()
}
