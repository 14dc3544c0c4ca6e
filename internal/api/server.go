// Package api serves the JSON data API: video link resolution, the media
// relay, and the scraped catalogue.
package api

import (
	"context"
	"net/http"

	"github.com/alvarorichard/goanime-server/internal/metrics"
	"github.com/alvarorichard/goanime-server/internal/models"
	"github.com/alvarorichard/goanime-server/internal/streamproxy"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// VideoLinker resolves episode page URLs to media URLs.
type VideoLinker interface {
	VideoLink(ctx context.Context, episodeURL string) (string, error)
}

// Streamer opens upstream media for relaying.
type Streamer interface {
	Open(ctx context.Context, mediaURL, rangeHeader string) (*streamproxy.Stream, error)
}

// Catalog is the scraped listing side of the source site.
type Catalog interface {
	LatestEpisodes(ctx context.Context) ([]models.LatestEpisode, error)
	Catalog(ctx context.Context) ([]models.AnimeCard, error)
	Search(ctx context.Context, query string) ([]models.AnimeCard, error)
	Profile(ctx context.Context, animeURL string) (*models.Profile, error)
}

// Counter reports how many links are cached.
type Counter interface {
	Len() int
}

// Dependencies wires a Server. Metrics may be nil.
type Dependencies struct {
	Links       VideoLinker
	Streams     Streamer
	Catalog     Catalog
	Cache       Counter
	Metrics     *metrics.Registry
	CORSOrigins []string
}

type Server struct {
	links   VideoLinker
	streams Streamer
	catalog Catalog
	cache   Counter
	metrics *metrics.Registry
	handler http.Handler
}

func NewServer(deps Dependencies) *Server {
	s := &Server{
		links:   deps.Links,
		streams: deps.Streams,
		catalog: deps.Catalog,
		cache:   deps.Cache,
		metrics: deps.Metrics,
	}

	r := mux.NewRouter()
	r.Use(requestIDMiddleware, s.loggingMiddleware, recoveryMiddleware)

	r.HandleFunc("/api/video_link", s.handleVideoLink).Methods("GET")
	r.HandleFunc("/api/stream_video", s.handleStreamVideo).Methods("GET")
	r.HandleFunc("/api/latest_episodes", s.handleLatestEpisodes).Methods("GET")
	r.HandleFunc("/api/catalog", s.handleCatalog).Methods("GET")
	r.HandleFunc("/api/search", s.handleSearch).Methods("GET")
	r.HandleFunc("/api/anime_profile", s.handleAnimeProfile).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Length", "Content-Range", "Accept-Ranges", RequestIDHeader},
	})
	s.handler = corsHandler.Handler(r)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
