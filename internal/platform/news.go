package platform

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amberdash/ingestd/internal/ingest"
	"github.com/amberdash/ingestd/internal/retryhttp"
)

// DefaultNewsBaseURL is the production Google News endpoint.
const DefaultNewsBaseURL = "https://news.google.com"

// newsSearchWindow restricts results to recent coverage.
const newsSearchWindow = "when:30d"

const newsUserAgent = "AmberNewsBot/1.0 (+https://github.com/amberdash/ingestd)"

// NewsSearch fetches articles for one search query from the Google News RSS
// feed. The feed has no pagination cursor: every fetch returns the newest
// window and deduplication filters articles already ingested.
type NewsSearch struct {
	client   *retryhttp.Client
	baseURL  string
	query    string
	language string
	country  string
	ceid     string
}

func NewNewsSearch(client *retryhttp.Client, baseURL, query, language string) *NewsSearch {
	if baseURL == "" {
		baseURL = DefaultNewsBaseURL
	}
	if language == "" {
		language = "hi-IN"
	}
	ceid := "IN:en"
	if strings.HasPrefix(language, "hi") {
		ceid = "IN:hi"
	}
	return &NewsSearch{
		client:   client,
		baseURL:  baseURL,
		query:    query,
		language: language,
		country:  "IN",
		ceid:     ceid,
	}
}

type newsFeedResponse struct {
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			GUID        string `xml:"guid"`
			PubDate     string `xml:"pubDate"`
			Description string `xml:"description"`
			Source      struct {
				URL  string `xml:"url,attr"`
				Name string `xml:",chardata"`
			} `xml:"source"`
		} `xml:"item"`
	} `xml:"channel"`
}

// Fetch returns the newest articles for the query. cursor is ignored and
// NextCursor is always empty, so the resume cursor never advances for news
// streams and each sweep re-reads the window.
func (n *NewsSearch) Fetch(ctx context.Context, cursor string, limit int) (*ingest.Page, error) {
	if limit <= 0 {
		limit = 8
	}
	q := url.Values{
		"q":    {n.query + " " + newsSearchWindow},
		"hl":   {n.language},
		"gl":   {n.country},
		"ceid": {n.ceid},
	}

	endpoint := fmt.Sprintf("%s/rss/search?%s", n.baseURL, q.Encode())
	header := http.Header{"User-Agent": {newsUserAgent}}
	resp, err := n.client.Get(ctx, endpoint, header)
	if err != nil {
		return nil, classify("news", err)
	}
	defer resp.Body.Close()

	var feed newsFeedResponse
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode news feed: %w", err)
	}

	page := &ingest.Page{}
	for _, entry := range feed.Channel.Items {
		if len(page.Items) >= limit {
			break
		}
		externalID := entry.GUID
		if externalID == "" {
			externalID = entry.Link
		}
		author := strings.TrimSpace(entry.Source.Name)
		if author == "" {
			author = "Unknown"
		}
		publishedAt, err := time.Parse(time.RFC1123, entry.PubDate)
		if err != nil {
			publishedAt, err = time.Parse(time.RFC1123Z, entry.PubDate)
		}
		if err != nil {
			publishedAt = time.Now().UTC()
		}
		content := strings.TrimSpace(entry.Title)
		if summary := stripTags(entry.Description); summary != "" && summary != content {
			content = content + "\n" + summary
		}
		page.Items = append(page.Items, ingest.Item{
			ExternalID: externalID,
			Platform:   "news",
			Author:     author,
			Content:    content,
			CreatedAt:  publishedAt,
		})
	}
	return page, nil
}

// stripTags reduces feed summary HTML to plain text: tags removed, entities
// unescaped, whitespace collapsed.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			b.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(html.UnescapeString(b.String())), " ")
}
