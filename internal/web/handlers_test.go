package web

import (
	"context"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/alvarorichard/goanime-server/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	latest    []models.LatestEpisode
	cards     []models.AnimeCard
	profile   *models.Profile
	link      string
	err       error
	linkCalls int
}

func (f *fakeAPI) LatestEpisodes(context.Context) ([]models.LatestEpisode, error) {
	return f.latest, f.err
}

func (f *fakeAPI) Catalog(context.Context) ([]models.AnimeCard, error) { return f.cards, f.err }

func (f *fakeAPI) Search(context.Context, string) ([]models.AnimeCard, error) {
	return f.cards, f.err
}

func (f *fakeAPI) Profile(context.Context, string) (*models.Profile, error) {
	return f.profile, f.err
}

func (f *fakeAPI) VideoLink(context.Context, string) (string, error) {
	f.linkCalls++
	return f.link, f.err
}

func newHandler(t *testing.T, api DataSource) *Handler {
	t.Helper()
	h, err := NewHandler(api, "http://127.0.0.1:5001/")
	require.NoError(t, err)
	return h
}

func serve(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestIndexListsLatestEpisodes(t *testing.T) {
	h := newHandler(t, &fakeAPI{latest: []models.LatestEpisode{
		{Title: "Frieren", EpisodeNumber: "12", Link: "https://animefire.plus/animes/frieren/12", ImageURL: "https://animefire.plus/img/f.webp"},
	}})

	rec := serve(h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Frieren")
	assert.Contains(t, rec.Body.String(), "Episódio 12")
}

func TestIndexRendersWhenAPIDown(t *testing.T) {
	h := newHandler(t, &fakeAPI{err: errors.New("connection refused")})

	rec := serve(h, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Nenhum episódio encontrado")
}

func TestSearchWithoutQueryRedirects(t *testing.T) {
	h := newHandler(t, &fakeAPI{})

	rec := serve(h, "/search")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestAnimeProfilePage(t *testing.T) {
	jp := "葬送のフリーレン"
	api := &fakeAPI{profile: &models.Profile{
		Title:         "Sousou no Frieren",
		JapaneseTitle: &jp,
		Synopsis:      "Depois da jornada.",
		Episodes:      []models.ProfileEpisode{{EpisodeNumber: "1", Link: "https://animefire.plus/animes/frieren/1"}},
	}}
	h := newHandler(t, api)

	rec := serve(h, "/anime_profile")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, "/anime_profile?url=https://animefire.plus/animes/frieren-todos-os-episodios")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), jp)
	assert.Contains(t, rec.Body.String(), "Episódio 1")

	api.err = errors.New("boom")
	rec = serve(h, "/anime_profile?url=https://animefire.plus/animes/frieren-todos-os-episodios")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWatchBuildsStreamURL(t *testing.T) {
	link := "https://cdn.example/video/a.mp4?token=x&e=1"
	api := &fakeAPI{link: link}
	h := newHandler(t, api)

	rec := serve(h, "/watch")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, api.linkCalls)

	rec = serve(h, "/watch?url="+url.QueryEscape("https://animefire.plus/animes/frieren/1"))
	require.Equal(t, http.StatusOK, rec.Code)

	want := "http://127.0.0.1:5001/api/stream_video?url=" + url.QueryEscape(link)
	assert.Equal(t, want, h.StreamURL(link))
	assert.Contains(t, html.UnescapeString(rec.Body.String()), `src="`+want+`"`)
}

func TestWatchFailsWithoutLink(t *testing.T) {
	h := newHandler(t, &fakeAPI{link: ""})

	rec := serve(h, "/watch?url=https://animefire.plus/animes/frieren/1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Erro ao obter o link do player.")
}

func TestAPIClientAgainstServer(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/video_link":
			assert.Equal(t, "https://site/ep/1?x=1&y=2", r.URL.Query().Get("url"))
			_, _ = w.Write([]byte(`{"video_link":"https://cdn/a.mp4"}`))
		case "/api/search":
			assert.Equal(t, "one piece", r.URL.Query().Get("q"))
			_, _ = w.Write([]byte(`[{"title":"One Piece","link":"https://site/a/op","image_url":""}]`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"Erro ao extrair dados do perfil"}`))
		}
	}))
	defer api.Close()

	client := NewAPIClient(api.URL+"/", api.Client())

	link, err := client.VideoLink(context.Background(), "https://site/ep/1?x=1&y=2")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/a.mp4", link)

	cards, err := client.Search(context.Background(), "one piece")
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "One Piece", cards[0].Title)

	_, err = client.Profile(context.Background(), "https://site/a/op")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAPI))
	assert.Contains(t, err.Error(), "Erro ao extrair dados do perfil")
}
