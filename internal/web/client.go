// Package web renders the browsing pages. It holds no scraping or resolution
// logic of its own and talks to goanime-api over HTTP.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/alvarorichard/goanime-server/internal/models"
	"github.com/pkg/errors"
)

var ErrAPI = errors.New("data API request failed")

// APIClient calls the goanime-api JSON endpoints.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, client *http.Client) *APIClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &APIClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (c *APIClient) LatestEpisodes(ctx context.Context) ([]models.LatestEpisode, error) {
	var episodes []models.LatestEpisode
	err := c.getJSON(ctx, "/api/latest_episodes", nil, &episodes)
	return episodes, err
}

func (c *APIClient) Catalog(ctx context.Context) ([]models.AnimeCard, error) {
	var cards []models.AnimeCard
	err := c.getJSON(ctx, "/api/catalog", nil, &cards)
	return cards, err
}

func (c *APIClient) Search(ctx context.Context, query string) ([]models.AnimeCard, error) {
	var cards []models.AnimeCard
	err := c.getJSON(ctx, "/api/search", url.Values{"q": {query}}, &cards)
	return cards, err
}

func (c *APIClient) Profile(ctx context.Context, animeURL string) (*models.Profile, error) {
	var profile models.Profile
	if err := c.getJSON(ctx, "/api/anime_profile", url.Values{"url": {animeURL}}, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *APIClient) VideoLink(ctx context.Context, episodeURL string) (string, error) {
	var resp models.VideoLinkResponse
	if err := c.getJSON(ctx, "/api/video_link", url.Values{"url": {episodeURL}}, &resp); err != nil {
		return "", err
	}
	return resp.VideoLink, nil
}

func (c *APIClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(ErrAPI, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr models.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return errors.Wrap(ErrAPI, fmt.Sprintf("%s: %s", resp.Status, apiErr.Error))
		}
		return errors.Wrap(ErrAPI, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}
