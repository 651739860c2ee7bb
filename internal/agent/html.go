package agent

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Tags whose contents never count as visible text.
var skipTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"svg":      true,
	"iframe":   true,
	"template": true,
	"head":     true,
}

type page struct {
	title  string
	text   []string
	images []string
	links  []string
}

// parsePage walks an HTML document once and collects the title, visible text
// blocks, image sources and link targets. Relative references are resolved
// against base.
func parsePage(r io.Reader, base *url.URL) (*page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	p := &page{}
	seenImg := make(map[string]bool)
	seenLink := make(map[string]bool)

	var walk func(n *html.Node, hidden bool)
	walk = func(n *html.Node, hidden bool) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "title":
				if p.title == "" && n.FirstChild != nil {
					p.title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "img":
				if src := resolve(base, attr(n, "src")); src != "" && !seenImg[src] {
					seenImg[src] = true
					p.images = append(p.images, src)
				}
			case "a":
				if href := resolve(base, attr(n, "href")); href != "" && !seenLink[href] {
					seenLink[href] = true
					p.links = append(p.links, href)
				}
			}
			if skipTags[n.Data] {
				hidden = true
			}
		case html.TextNode:
			if !hidden {
				if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
					p.text = append(p.text, t)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, hidden)
		}
	}
	walk(doc, false)

	return p, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "javascript:") || strings.HasPrefix(ref, "data:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}
