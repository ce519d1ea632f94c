package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/amberdash/ingestd/internal/ingest"
	"github.com/amberdash/ingestd/internal/retryhttp"
)

// DefaultFacebookBaseURL is the production Graph API endpoint.
const DefaultFacebookBaseURL = "https://graph.facebook.com/v19.0"

// facebookCreatedLayout matches Graph API created_time, which carries a
// zone offset without a colon ("2025-06-01T12:00:00+0000").
const facebookCreatedLayout = "2006-01-02T15:04:05-0700"

// FacebookPosts fetches one page's feed from the Facebook Graph API.
type FacebookPosts struct {
	client  *retryhttp.Client
	baseURL string
	token   string
	page    string
}

func NewFacebookPosts(client *retryhttp.Client, baseURL, accessToken, page string) *FacebookPosts {
	if baseURL == "" {
		baseURL = DefaultFacebookBaseURL
	}
	return &FacebookPosts{
		client:  client,
		baseURL: baseURL,
		token:   accessToken,
		page:    page,
	}
}

type facebookFeedResponse struct {
	Data []struct {
		ID          string `json:"id"`
		Message     string `json:"message"`
		CreatedTime string `json:"created_time"`
		FullPicture string `json:"full_picture"`
		From        struct {
			Name    string `json:"name"`
			Picture struct {
				Data struct {
					URL string `json:"url"`
				} `json:"data"`
			} `json:"picture"`
		} `json:"from"`
	} `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next"`
	} `json:"paging"`
}

// Fetch returns one page of the feed. cursor is the Graph API "after"
// cursor from a previous page, "" for the newest page.
func (f *FacebookPosts) Fetch(ctx context.Context, cursor string, limit int) (*ingest.Page, error) {
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{
		"access_token": {f.token},
		"limit":        {strconv.Itoa(limit)},
		"fields":       {"id,message,created_time,full_picture,from{name,picture{data{url}}}"},
	}
	if cursor != "" {
		q.Set("after", cursor)
	}

	endpoint := fmt.Sprintf("%s/%s/posts?%s", f.baseURL, url.PathEscape(f.page), q.Encode())
	resp, err := f.client.Get(ctx, endpoint, nil)
	if err != nil {
		return nil, classify("facebook", err)
	}
	defer resp.Body.Close()

	var feed facebookFeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode facebook response: %w", err)
	}

	page := &ingest.Page{}
	// Graph API returns a cursors block even on the last page; only a
	// "next" link means more data exists.
	if feed.Paging.Next != "" {
		page.NextCursor = feed.Paging.Cursors.After
	}

	for _, post := range feed.Data {
		createdAt, err := time.Parse(facebookCreatedLayout, post.CreatedTime)
		if err != nil {
			createdAt, _ = time.Parse(time.RFC3339, post.CreatedTime)
		}
		author := post.From.Name
		if author == "" {
			author = f.page
		}
		var media []string
		if post.FullPicture != "" {
			media = []string{post.FullPicture}
		}
		page.Items = append(page.Items, ingest.Item{
			ExternalID: post.ID,
			Platform:   "facebook",
			Author:     author,
			Content:    post.Message,
			CreatedAt:  createdAt,
			MediaURLs:  media,
			AvatarURL:  post.From.Picture.Data.URL,
		})
	}
	return page, nil
}
