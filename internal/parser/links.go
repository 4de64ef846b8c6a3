package parser

import (
	"bytes"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"github.com/rohmanhakim/polite-crawler/pkg/urlutil"
)

// extractLinks parses body as HTML and returns every <a href> target,
// resolved against baseURL and scope-filtered by allowedHosts. Malformed
// hrefs are skipped rather than failing the whole page.
func extractLinks(baseURL string, body []byte, allowedHosts []string) ([]url.URL, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var links []url.URL
	seen := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, exists := sel.Attr("href")
		if !exists || href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		canon := urlutil.Canonicalize(*resolved)
		if !urlutil.InScope(canon, allowedHosts) {
			return
		}
		key := canon.String()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		links = append(links, canon)
	})

	return links, nil
}
