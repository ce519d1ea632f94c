// Package platform implements per-source fetchers over the retrying HTTP
// client. Each fetcher normalizes one external API's payload into ingest
// items and classifies its failures for the orchestrator.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/amberdash/ingestd/internal/ingest"
	"github.com/amberdash/ingestd/internal/retryhttp"
)

// DefaultXBaseURL is the production X API v2 endpoint.
const DefaultXBaseURL = "https://api.twitter.com/2"

// XTimeline fetches one user's recent posts from the X API v2. The numeric
// user ID and avatar are resolved from the handle on first fetch and cached
// for the lifetime of the fetcher.
type XTimeline struct {
	client  *retryhttp.Client
	baseURL string
	token   string
	handle  string

	userID string
	avatar string
}

func NewXTimeline(client *retryhttp.Client, baseURL, bearerToken, handle string) *XTimeline {
	if baseURL == "" {
		baseURL = DefaultXBaseURL
	}
	return &XTimeline{
		client:  client,
		baseURL: baseURL,
		token:   bearerToken,
		handle:  handle,
	}
}

type xUserResponse struct {
	Data struct {
		ID              string `json:"id"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"data"`
}

type xTimelineResponse struct {
	Data []struct {
		ID          string `json:"id"`
		Text        string `json:"text"`
		CreatedAt   string `json:"created_at"`
		Attachments struct {
			MediaKeys []string `json:"media_keys"`
		} `json:"attachments"`
	} `json:"data"`
	Includes struct {
		Media []struct {
			MediaKey        string `json:"media_key"`
			URL             string `json:"url"`
			PreviewImageURL string `json:"preview_image_url"`
		} `json:"media"`
	} `json:"includes"`
	Meta struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
}

// Fetch returns one page of the user's timeline. cursor is the X
// pagination_token from a previous page, "" for the newest page.
func (t *XTimeline) Fetch(ctx context.Context, cursor string, limit int) (*ingest.Page, error) {
	if t.userID == "" {
		if err := t.resolveUser(ctx); err != nil {
			return nil, err
		}
	}

	// The timeline endpoint rejects max_results outside [5,100].
	if limit < 5 {
		limit = 5
	}
	if limit > 100 {
		limit = 100
	}

	q := url.Values{
		"max_results":  {strconv.Itoa(limit)},
		"tweet.fields": {"created_at,text,author_id"},
		"expansions":   {"attachments.media_keys"},
		"media.fields": {"url,preview_image_url"},
	}
	if cursor != "" {
		q.Set("pagination_token", cursor)
	}

	var timeline xTimelineResponse
	endpoint := fmt.Sprintf("%s/users/%s/tweets?%s", t.baseURL, t.userID, q.Encode())
	if err := t.getJSON(ctx, endpoint, &timeline); err != nil {
		return nil, err
	}

	mediaURLs := make(map[string]string, len(timeline.Includes.Media))
	for _, m := range timeline.Includes.Media {
		u := m.URL
		if u == "" {
			u = m.PreviewImageURL
		}
		if m.MediaKey != "" && u != "" {
			mediaURLs[m.MediaKey] = u
		}
	}

	page := &ingest.Page{NextCursor: timeline.Meta.NextToken}
	for _, tweet := range timeline.Data {
		createdAt, _ := time.Parse(time.RFC3339, tweet.CreatedAt)
		var media []string
		for _, key := range tweet.Attachments.MediaKeys {
			if u, ok := mediaURLs[key]; ok {
				media = append(media, u)
			}
		}
		page.Items = append(page.Items, ingest.Item{
			ExternalID: tweet.ID,
			Platform:   "x",
			Author:     t.handle,
			Content:    tweet.Text,
			CreatedAt:  createdAt,
			MediaURLs:  media,
			AvatarURL:  t.avatar,
		})
	}
	return page, nil
}

func (t *XTimeline) resolveUser(ctx context.Context) error {
	var user xUserResponse
	endpoint := fmt.Sprintf("%s/users/by/username/%s?user.fields=profile_image_url", t.baseURL, url.PathEscape(t.handle))
	if err := t.getJSON(ctx, endpoint, &user); err != nil {
		return err
	}
	if user.Data.ID == "" {
		return fmt.Errorf("x user %q not found", t.handle)
	}
	t.userID = user.Data.ID
	t.avatar = user.Data.ProfileImageURL
	return nil
}

func (t *XTimeline) getJSON(ctx context.Context, endpoint string, out any) error {
	header := http.Header{"Authorization": {"Bearer " + t.token}}
	resp, err := t.client.Get(ctx, endpoint, header)
	if err != nil {
		return classify("x", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode x response: %w", err)
	}
	return nil
}

// classify maps credential rejections to AuthError so the orchestrator can
// tell a bad token from a flaky upstream. Everything else passes through
// with its retryhttp type intact.
func classify(platformName string, err error) error {
	var perm *retryhttp.PermanentError
	if errors.As(err, &perm) && (perm.StatusCode == http.StatusUnauthorized || perm.StatusCode == http.StatusForbidden) {
		return &ingest.AuthError{Platform: platformName, Err: err}
	}
	return err
}
