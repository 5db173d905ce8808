package handlers

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/alecthomas/chroma"
	chromahtml "github.com/alecthomas/chroma/formatters/html"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// renderer turns a transcript entry into the HTML of its bubble. Assistant text is markdown, code is
// shown with line numbers and user text is shown as typed.
type renderer struct {
	markdown goldmark.Markdown

	codeStyle     *chroma.Style
	codeFormatter *chromahtml.Formatter
}

const codeStyleName = "github"

func newRenderer() renderer {
	return renderer{
		markdown: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(
					highlighting.WithStyle(codeStyleName),
				),
			),
			goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
		),
		codeStyle:     styles.Get(codeStyleName),
		codeFormatter: chromahtml.New(chromahtml.WithLineNumbers(true), chromahtml.TabWidth(4)),
	}
}

func (r renderer) render(msg models.Message) (template.HTML, error) {
	if msg.ID == models.PendingReplyID {
		return template.HTML(template.HTMLEscapeString(msg.Text)), nil
	}

	switch msg.Role {
	case models.RoleAssistant:
		var buf bytes.Buffer
		if err := r.markdown.Convert([]byte(msg.Text), &buf); err != nil {
			return "", fmt.Errorf("failed to convert markdown: %w", err)
		}
		return template.HTML(buf.String()), nil
	case models.RoleCode:
		return r.renderCode(msg.Text)
	default:
		return template.HTML(template.HTMLEscapeString(msg.Text)), nil
	}
}

func (r renderer) renderCode(code string) (template.HTML, error) {
	lexer := lexers.Analyse(code)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	it, err := lexer.Tokenise(nil, strings.TrimRight(code, "\n"))
	if err != nil {
		return "", fmt.Errorf("failed to tokenise code: %w", err)
	}

	var buf bytes.Buffer
	if err := r.codeFormatter.Format(&buf, r.codeStyle, it); err != nil {
		return "", fmt.Errorf("failed to format code: %w", err)
	}
	return template.HTML(buf.String()), nil
}
