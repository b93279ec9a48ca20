// Package pageinfo extracts a title, description and preview image from a
// web page for prefilling new links.
package pageinfo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/linkstash/linkstash/internal/errors"
	"github.com/linkstash/linkstash/internal/models"
)

const maxPageBytes = 2 << 20

// Doer sends HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads pages and extracts their metadata.
type Fetcher struct {
	doer Doer
}

func NewFetcher(doer Doer) *Fetcher {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Fetcher{doer: doer}
}

// Fetch downloads pageURL and extracts its metadata. Pages that cannot be
// parsed still yield a PageInfo carrying the URL.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (models.PageInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return models.PageInfo{}, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.doer.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.PageInfo{}, ctx.Err()
		}
		return models.PageInfo{}, &errors.ErrNetwork{Operation: "fetch page", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.PageInfo{}, fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	base := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL.String()
	}
	info, err := Extract(base, io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return models.PageInfo{URL: pageURL, Type: models.LinkTypeOther}, nil
	}
	info.URL = pageURL
	return info, nil
}

// Extract reads metadata from an HTML document. pageURL is used to
// resolve relative image references.
func Extract(pageURL string, r io.Reader) (models.PageInfo, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return models.PageInfo{}, err
	}

	info := models.PageInfo{
		URL:         pageURL,
		Title:       title(doc),
		Description: firstMeta(doc, "meta[property='og:description']", "meta[name='description']", "meta[name='twitter:description']"),
		Type:        models.LinkTypeOther,
	}
	if img := previewImage(doc); img != "" {
		info.PreviewImageURL = resolve(pageURL, img)
	}
	return info, nil
}

func title(doc *goquery.Document) string {
	if t := normalize(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return firstMeta(doc, "meta[property='og:title']", "meta[name='twitter:title']")
}

func previewImage(doc *goquery.Document) string {
	if img := firstMeta(doc, "meta[property='og:image']", "meta[name='twitter:image']"); img != "" {
		return img
	}
	if href, ok := doc.Find("link[rel='image_src']").First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		return strings.TrimSpace(href)
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}

func firstMeta(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		content, ok := doc.Find(sel).First().Attr("content")
		if ok {
			if v := normalize(content); v != "" {
				return v
			}
		}
	}
	return ""
}

func resolve(pageURL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if u.IsAbs() {
		return u.String()
	}
	base, err := url.Parse(pageURL)
	if err != nil || !base.IsAbs() {
		return ref
	}
	return base.ResolveReference(u).String()
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
