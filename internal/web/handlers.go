package web

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alvarorichard/goanime-server/internal/models"
	"github.com/alvarorichard/goanime-server/internal/util"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pages = []string{"index.html", "catalog.html", "search_results.html", "anime_profile.html", "watch.html"}

// DataSource is what the pages need from the data API.
type DataSource interface {
	LatestEpisodes(ctx context.Context) ([]models.LatestEpisode, error)
	Catalog(ctx context.Context) ([]models.AnimeCard, error)
	Search(ctx context.Context, query string) ([]models.AnimeCard, error)
	Profile(ctx context.Context, animeURL string) (*models.Profile, error)
	VideoLink(ctx context.Context, episodeURL string) (string, error)
}

type Handler struct {
	api          DataSource
	publicAPIURL string
	templates    map[string]*template.Template
	router       *mux.Router
}

// NewHandler parses the embedded templates and registers the page routes.
// publicAPIURL is the API base as seen from the user's browser.
func NewHandler(api DataSource, publicAPIURL string) (*Handler, error) {
	h := &Handler{
		api:          api,
		publicAPIURL: strings.TrimRight(publicAPIURL, "/"),
		templates:    make(map[string]*template.Template, len(pages)),
	}
	for _, page := range pages {
		tmpl, err := template.ParseFS(templatesFS, "templates/layout.html", "templates/"+page)
		if err != nil {
			return nil, errors.Wrapf(err, "parse template %s", page)
		}
		h.templates[page] = tmpl
	}

	r := mux.NewRouter()
	r.Use(logRequests)
	r.HandleFunc("/", h.index).Methods("GET")
	r.HandleFunc("/catalog", h.catalog).Methods("GET")
	r.HandleFunc("/search", h.search).Methods("GET")
	r.HandleFunc("/anime_profile", h.animeProfile).Methods("GET")
	r.HandleFunc("/watch", h.watch).Methods("GET")
	h.router = r
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// StreamURL builds the relay URL the player loads the media from.
func (h *Handler) StreamURL(videoLink string) string {
	return h.publicAPIURL + "/api/stream_video?url=" + url.QueryEscape(videoLink)
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	episodes, err := h.api.LatestEpisodes(r.Context())
	if err != nil {
		util.Error("Error connecting to the API", "err", err)
		episodes = nil
	}
	h.render(w, "index.html", map[string]interface{}{"LatestEpisodes": episodes})
}

func (h *Handler) catalog(w http.ResponseWriter, r *http.Request) {
	cards, err := h.api.Catalog(r.Context())
	if err != nil {
		util.Error("Error connecting to the catalog API", "err", err)
		cards = nil
	}
	h.render(w, "catalog.html", map[string]interface{}{"Catalog": cards})
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	results, err := h.api.Search(r.Context(), query)
	if err != nil {
		util.Error("Error connecting to the search API", "query", query, "err", err)
		results = nil
	}
	h.render(w, "search_results.html", map[string]interface{}{"Query": query, "SearchResults": results})
}

func (h *Handler) animeProfile(w http.ResponseWriter, r *http.Request) {
	animeURL := r.URL.Query().Get("url")
	if animeURL == "" {
		http.Error(w, "URL do anime não fornecida", http.StatusBadRequest)
		return
	}

	profile, err := h.api.Profile(r.Context(), animeURL)
	if err != nil {
		util.Error("Error connecting to the anime profile API", "url", animeURL, "err", err)
		http.Error(w, "Erro ao carregar o perfil do anime.", http.StatusInternalServerError)
		return
	}
	h.render(w, "anime_profile.html", map[string]interface{}{"Anime": profile})
}

func (h *Handler) watch(w http.ResponseWriter, r *http.Request) {
	episodeURL := r.URL.Query().Get("url")
	if episodeURL == "" {
		http.Error(w, "URL do episódio não fornecida", http.StatusBadRequest)
		return
	}

	link, err := h.api.VideoLink(r.Context(), episodeURL)
	if err != nil || link == "" {
		util.Error("Error getting player link", "url", episodeURL, "err", err)
		http.Error(w, "Erro ao obter o link do player.", http.StatusInternalServerError)
		return
	}
	h.render(w, "watch.html", map[string]interface{}{"VideoProxyLink": h.StreamURL(link)})
}

// render executes into a buffer so a template error still yields a clean 500.
func (h *Handler) render(w http.ResponseWriter, page string, data interface{}) {
	var buf bytes.Buffer
	if err := h.templates[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		util.Error("Failed to render page", "page", page, "err", err)
		http.Error(w, "Erro interno do servidor", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		util.Info("Page served", "method", r.Method, "path", r.URL.Path, "status", sw.status,
			"duration", time.Since(start).Round(time.Millisecond))
	})
}
