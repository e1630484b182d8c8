package markdown

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractMetadata reads title, description, language and OpenGraph tags from
// html. Keys follow the provider's metadata naming so stored headers look the
// same whichever scraper produced them.
func ExtractMetadata(html, sourceURL string, status int) map[string]any {
	meta := map[string]any{
		"sourceURL":  sourceURL,
		"statusCode": status,
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return meta
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = title
	}
	if lang, ok := doc.Find("html").Attr("lang"); ok && lang != "" {
		meta["language"] = lang
	}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok || content == "" {
			return
		}
		if name, ok := s.Attr("name"); ok {
			switch strings.ToLower(name) {
			case "description":
				meta["description"] = content
			case "keywords":
				meta["keywords"] = content
			case "robots":
				meta["robots"] = content
			}
			return
		}
		if prop, ok := s.Attr("property"); ok && strings.HasPrefix(prop, "og:") {
			meta[ogKey(prop)] = content
		}
	})
	return meta
}

// ogKey maps "og:site_name" to "ogSiteName".
func ogKey(prop string) string {
	parts := strings.Split(strings.TrimPrefix(prop, "og:"), "_")
	var b strings.Builder
	b.WriteString("og")
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
