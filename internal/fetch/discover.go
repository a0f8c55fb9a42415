package fetch

import (
	"bytes"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/net/html"

	"github.com/nao1215/findsim/internal/model"
)

// Asset is a sub-resource reference found on a page.
type Asset struct {
	URL  string
	Type model.ResourceType
}

// fallbackIconPaths are tried when the page declares no icon.
var fallbackIconPaths = []string{"/favicon.ico", "/favicon.png"}

// Discover returns the static assets referenced by an HTML body, resolved
// against base, in document order and without duplicates. Icons are
// returned separately, declared ones first followed by the well-known
// fallback locations.
func Discover(base *url.URL, body []byte) (assets []Asset, icons []string) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fallbackIcons(base, nil)
	}

	seen := make(map[string]bool)
	var declaredIcons []string

	add := func(ref string, typ model.ResourceType) {
		resolved := resolve(base, ref)
		if resolved == "" {
			return
		}
		if typ == model.ResourceIcon {
			if !slices.Contains(declaredIcons, resolved) {
				declaredIcons = append(declaredIcons, resolved)
			}
			return
		}
		if seen[resolved] {
			return
		}
		seen[resolved] = true
		assets = append(assets, Asset{URL: resolved, Type: typ})
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "base":
				if href := attr(n, "href"); href != "" {
					if u, err := base.Parse(href); err == nil {
						base = u
					}
				}
			case "script":
				if src := attr(n, "src"); src != "" {
					add(src, model.ResourceScript)
				}
			case "img":
				if src := attr(n, "src"); src != "" {
					add(src, model.ResourceImage)
				}
			case "link":
				href := attr(n, "href")
				if href == "" {
					break
				}
				rel := strings.Fields(strings.ToLower(attr(n, "rel")))
				switch {
				case slices.Contains(rel, "stylesheet"):
					add(href, model.ResourceStylesheet)
				case slices.Contains(rel, "icon"):
					add(href, model.ResourceIcon)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return assets, fallbackIcons(base, declaredIcons)
}

func fallbackIcons(base *url.URL, declared []string) []string {
	icons := slices.Clone(declared)
	for _, p := range fallbackIconPaths {
		ref := resolve(base, p)
		if ref != "" && !slices.Contains(icons, ref) {
			icons = append(icons, ref)
		}
	}
	return icons
}

// resolve returns ref as an absolute http(s) URL without fragment, or ""
// for references that cannot be fetched (data:, javascript:, blob:, ...).
func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
