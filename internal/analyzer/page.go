package analyzer

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/cuongbtq/restaurant-analysis/internal/analysis/domain"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var socialHosts = []string{
	"facebook.com",
	"instagram.com",
	"twitter.com",
	"x.com",
	"tiktok.com",
	"yelp.com",
	"tripadvisor.com",
	"youtube.com",
}

var menuKeywords = []string{"menu", "carta", "speisekarte", "carte"}

// Page is what the analyzer extracts from a restaurant homepage
type Page struct {
	URL         string
	StatusCode  int
	Title       string
	Description string
	SiteName    string
	Language    string
	Phones      []string
	MenuLinks   []string
	SocialLinks []string
	ImageCount  int
	// Text is the visible body text, whitespace collapsed and truncated for summarization
	Text string
}

const maxPageText = 4000

// ParsePage extracts restaurant facts from an HTML document served at base
func ParsePage(base *url.URL, body []byte) (*Page, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	p := &Page{URL: base.String()}
	seen := make(map[string]bool)
	var text strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			case atom.Html:
				if p.Language == "" {
					p.Language = attr(n, "lang")
				}
			case atom.Title:
				if p.Title == "" && n.FirstChild != nil {
					p.Title = collapse(n.FirstChild.Data)
				}
			case atom.Meta:
				p.applyMeta(n)
			case atom.Img:
				p.ImageCount++
			case atom.A:
				p.applyLink(base, n, seen)
			}
		case html.TextNode:
			if text.Len() < maxPageText {
				if s := collapse(n.Data); s != "" {
					text.WriteString(s)
					text.WriteByte(' ')
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	p.Text = strings.TrimSpace(text.String())
	if len(p.Text) > maxPageText {
		p.Text = p.Text[:maxPageText]
	}
	if p.SiteName == "" {
		p.SiteName = p.Title
	}
	return p, nil
}

func (p *Page) applyMeta(n *html.Node) {
	content := collapse(attr(n, "content"))
	if content == "" {
		return
	}

	key := strings.ToLower(attr(n, "name"))
	if key == "" {
		key = strings.ToLower(attr(n, "property"))
	}

	switch key {
	case "description":
		p.Description = content
	case "og:description":
		if p.Description == "" {
			p.Description = content
		}
	case "og:site_name":
		p.SiteName = content
	case "og:title":
		if p.Title == "" {
			p.Title = content
		}
	}
}

func (p *Page) applyLink(base *url.URL, n *html.Node, seen map[string]bool) {
	href := strings.TrimSpace(attr(n, "href"))
	if href == "" || strings.HasPrefix(href, "#") {
		return
	}

	if phone, ok := strings.CutPrefix(strings.ToLower(href), "tel:"); ok {
		phone = strings.TrimSpace(phone)
		if phone != "" && !seen["tel:"+phone] {
			seen["tel:"+phone] = true
			p.Phones = append(p.Phones, phone)
		}
		return
	}

	ref, err := url.Parse(href)
	if err != nil {
		return
	}
	link := base.ResolveReference(ref)
	if link.Scheme != "http" && link.Scheme != "https" {
		return
	}
	link.Fragment = ""
	resolved := link.String()
	if seen[resolved] {
		return
	}

	switch {
	case isSocialHost(link.Hostname()):
		seen[resolved] = true
		p.SocialLinks = append(p.SocialLinks, resolved)
	case mentionsMenu(resolved) || mentionsMenu(nodeText(n)):
		seen[resolved] = true
		p.MenuLinks = append(p.MenuLinks, resolved)
	}
}

// Metadata renders the page as a job result
func (p *Page) Metadata() domain.Metadata {
	return domain.Metadata{
		"url":           p.URL,
		"status_code":   p.StatusCode,
		"title":         p.Title,
		"description":   p.Description,
		"site_name":     p.SiteName,
		"language":      p.Language,
		"phone_numbers": toAny(p.Phones),
		"menu_links":    toAny(p.MenuLinks),
		"social_links":  toAny(p.SocialLinks),
		"image_count":   p.ImageCount,
	}
}

func isSocialHost(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, social := range socialHosts {
		if host == social || strings.HasSuffix(host, "."+social) {
			return true
		}
	}
	return false
}

func mentionsMenu(s string) bool {
	s = strings.ToLower(s)
	for _, kw := range menuKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return collapse(b.String())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// toAny keeps list values JSON-shaped so stored and in-memory results look the same
func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
