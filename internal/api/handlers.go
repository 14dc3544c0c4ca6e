package api

import (
	"net/http"

	"github.com/alvarorichard/goanime-server/internal/models"
	"github.com/alvarorichard/goanime-server/internal/util"
	"github.com/alvarorichard/goanime-server/internal/videolink"
	"github.com/pkg/errors"
)

// handleVideoLink handles GET /api/video_link?url=
func (s *Server) handleVideoLink(w http.ResponseWriter, r *http.Request) {
	episodeURL := r.URL.Query().Get("url")
	if episodeURL == "" {
		writeError(w, http.StatusBadRequest, "URL do episódio não fornecida")
		return
	}

	link, err := s.links.VideoLink(r.Context(), episodeURL)
	if err != nil {
		if errors.Is(err, videolink.ErrMissingURL) {
			writeError(w, http.StatusBadRequest, "URL do episódio não fornecida")
			return
		}
		util.Error("Video link resolution failed", "id", RequestID(r.Context()), "url", episodeURL, "err", err)
		writeError(w, http.StatusInternalServerError, "Erro ao extrair o link do vídeo")
		return
	}

	writeJSON(w, http.StatusOK, models.VideoLinkResponse{VideoLink: link})
}

// handleStreamVideo handles GET /api/stream_video?url=
func (s *Server) handleStreamVideo(w http.ResponseWriter, r *http.Request) {
	mediaURL := r.URL.Query().Get("url")
	if mediaURL == "" {
		writeError(w, http.StatusBadRequest, "URL do vídeo não fornecida")
		return
	}

	stream, err := s.streams.Open(r.Context(), mediaURL, r.Header.Get("Range"))
	if err != nil {
		util.Error("Video proxy failed", "id", RequestID(r.Context()), "url", mediaURL, "err", err)
		writeError(w, http.StatusInternalServerError, "Erro ao fazer proxy do vídeo")
		return
	}
	defer stream.Close()

	for k, v := range stream.Header {
		w.Header()[k] = v
	}
	w.Header().Set("Content-Type", stream.ContentType)
	w.WriteHeader(stream.StatusCode)

	// Headers are out; a failure from here on can only truncate the body.
	if n, err := stream.WriteTo(w); err != nil {
		util.Debug("Stream ended early", "id", RequestID(r.Context()), "url", mediaURL, "bytes", n, "err", err)
	}
}

// handleLatestEpisodes handles GET /api/latest_episodes
func (s *Server) handleLatestEpisodes(w http.ResponseWriter, r *http.Request) {
	episodes, err := s.catalog.LatestEpisodes(r.Context())
	if err != nil {
		util.Error("Failed to scrape latest episodes", "err", err)
		episodes = []models.LatestEpisode{}
	}
	writeJSON(w, http.StatusOK, episodes)
}

// handleCatalog handles GET /api/catalog
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cards, err := s.catalog.Catalog(r.Context())
	if err != nil {
		util.Error("Failed to scrape catalog", "err", err)
		cards = []models.AnimeCard{}
	}
	writeJSON(w, http.StatusOK, cards)
}

// handleSearch handles GET /api/search?q=
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "Termo de busca não fornecido")
		return
	}

	cards, err := s.catalog.Search(r.Context(), query)
	if err != nil {
		util.Error("Failed to scrape search results", "query", query, "err", err)
		cards = []models.AnimeCard{}
	}
	writeJSON(w, http.StatusOK, cards)
}

// handleAnimeProfile handles GET /api/anime_profile?url=
func (s *Server) handleAnimeProfile(w http.ResponseWriter, r *http.Request) {
	animeURL := r.URL.Query().Get("url")
	if animeURL == "" {
		writeError(w, http.StatusBadRequest, "URL do anime não fornecida")
		return
	}

	profile, err := s.catalog.Profile(r.Context(), animeURL)
	if err != nil || profile == nil {
		util.Error("Failed to scrape anime profile", "url", animeURL, "err", err)
		writeError(w, http.StatusInternalServerError, "Erro ao extrair dados do perfil")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type healthResponse struct {
	Status      string `json:"status"`
	CachedLinks int    `json:"cached_links"`
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.cache != nil {
		resp.CachedLinks = s.cache.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}
