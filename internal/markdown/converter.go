// Package markdown turns fetched HTML into the scrape result shape: markdown
// content plus page metadata.
package markdown

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/JakeFAU/crawl-recorder/internal/crawler"
)

// Converter wraps html-to-markdown.
type Converter struct {
	conv *converter.Converter
}

// NewConverter creates a Converter with the commonmark and table plugins.
func NewConverter() *Converter {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	return &Converter{conv: conv}
}

// Convert transforms HTML into Markdown. Blank input yields "".
func (c *Converter) Convert(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}
	out, err := c.conv.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert html to markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Result builds a ScrapeResult from a fetched page, honoring the requested
// formats. Metadata is always extracted.
func (c *Converter) Result(html, sourceURL string, status int, formats []crawler.Format) (crawler.ScrapeResult, error) {
	res := crawler.ScrapeResult{
		StatusCode: status,
		Metadata:   ExtractMetadata(html, sourceURL, status),
	}
	if wants(formats, crawler.FormatHTML) {
		res.HTML = html
	}
	if wants(formats, crawler.FormatMarkdown) {
		md, err := c.Convert(html)
		if err != nil {
			return crawler.ScrapeResult{}, err
		}
		res.Markdown = md
	}
	return res, nil
}

func wants(formats []crawler.Format, f crawler.Format) bool {
	if len(formats) == 0 {
		return true
	}
	for _, candidate := range formats {
		if candidate == f {
			return true
		}
	}
	return false
}
