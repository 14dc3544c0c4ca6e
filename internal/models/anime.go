// Package models contains the JSON shapes shared by the API and the web process
package models

// LatestEpisode is one card of the "latest episodes" list on the home page.
type LatestEpisode struct {
	Title         string `json:"title"`
	EpisodeNumber string `json:"episode_number"`
	Link          string `json:"link"`
	ImageURL      string `json:"image_url"`
}

// AnimeCard is an entry of the catalog or of a search result page.
type AnimeCard struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	ImageURL string `json:"image_url"`
}

// ProfileEpisode is one episode link listed on an anime profile page.
type ProfileEpisode struct {
	EpisodeNumber string `json:"episode_number"`
	Link          string `json:"link"`
}

// Profile holds the metadata scraped from an anime profile page.
// EnglishTitle and JapaneseTitle are null when the page does not list them.
type Profile struct {
	Title         string           `json:"title"`
	EnglishTitle  *string          `json:"english_title"`
	JapaneseTitle *string          `json:"japanese_title"`
	ImageURL      string           `json:"image_url"`
	Synopsis      string           `json:"synopsis"`
	Episodes      []ProfileEpisode `json:"episodes"`
}

// VideoLinkResponse is the body of a successful /api/video_link call.
type VideoLinkResponse struct {
	VideoLink string `json:"video_link"`
}

// ErrorResponse is the body of every JSON error returned by the API.
type ErrorResponse struct {
	Error string `json:"error"`
}
