package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/alvarorichard/goanime-server/internal/metrics"
	"github.com/alvarorichard/goanime-server/internal/models"
	"github.com/alvarorichard/goanime-server/internal/resolver"
	"github.com/alvarorichard/goanime-server/internal/streamproxy"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLinks struct {
	mock.Mock
}

func (m *mockLinks) VideoLink(ctx context.Context, episodeURL string) (string, error) {
	args := m.Called(ctx, episodeURL)
	return args.String(0), args.Error(1)
}

type mockStreams struct {
	mock.Mock
}

func (m *mockStreams) Open(ctx context.Context, mediaURL, rangeHeader string) (*streamproxy.Stream, error) {
	args := m.Called(ctx, mediaURL, rangeHeader)
	stream, _ := args.Get(0).(*streamproxy.Stream)
	return stream, args.Error(1)
}

type fakeCatalog struct {
	latest  []models.LatestEpisode
	cards   []models.AnimeCard
	profile *models.Profile
	err     error
	queries []string
}

func (f *fakeCatalog) LatestEpisodes(context.Context) ([]models.LatestEpisode, error) {
	return f.latest, f.err
}

func (f *fakeCatalog) Catalog(context.Context) ([]models.AnimeCard, error) {
	return f.cards, f.err
}

func (f *fakeCatalog) Search(_ context.Context, q string) ([]models.AnimeCard, error) {
	f.queries = append(f.queries, q)
	return f.cards, f.err
}

func (f *fakeCatalog) Profile(context.Context, string) (*models.Profile, error) {
	return f.profile, f.err
}

type fixedCount int

func (c fixedCount) Len() int { return int(c) }

func newTestServer(links VideoLinker, streams Streamer, catalog Catalog) *Server {
	return NewServer(Dependencies{
		Links:   links,
		Streams: streams,
		Catalog: catalog,
		Cache:   fixedCount(3),
		Metrics: metrics.New(),
	})
}

func get(t *testing.T, h http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestVideoLinkMissingURL(t *testing.T) {
	links := new(mockLinks)
	srv := newTestServer(links, new(mockStreams), &fakeCatalog{})

	rec := get(t, srv, "/api/video_link", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "URL do episódio não fornecida", decodeError(t, rec))
	links.AssertNotCalled(t, "VideoLink", mock.Anything, mock.Anything)
}

func TestVideoLinkSuccess(t *testing.T) {
	links := new(mockLinks)
	links.On("VideoLink", mock.Anything, "https://site/ep/1").Return("https://cdn/a.mp4", nil)
	srv := newTestServer(links, new(mockStreams), &fakeCatalog{})

	rec := get(t, srv, "/api/video_link?url="+url.QueryEscape("https://site/ep/1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"video_link":"https://cdn/a.mp4"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestVideoLinkResolutionFailure(t *testing.T) {
	links := new(mockLinks)
	links.On("VideoLink", mock.Anything, "https://site/ep/404").
		Return("", &resolver.Error{Stage: resolver.StageVideo, URL: "https://site/ep/404", Err: resolver.ErrElementNotFound})
	srv := newTestServer(links, new(mockStreams), &fakeCatalog{})

	rec := get(t, srv, "/api/video_link?url=https://site/ep/404", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Erro ao extrair o link do vídeo", decodeError(t, rec))
}

func TestStreamVideoMissingURL(t *testing.T) {
	streams := new(mockStreams)
	srv := newTestServer(new(mockLinks), streams, &fakeCatalog{})

	rec := get(t, srv, "/api/stream_video", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "URL do vídeo não fornecida", decodeError(t, rec))
	streams.AssertNotCalled(t, "Open", mock.Anything, mock.Anything, mock.Anything)
}

func TestStreamVideoRelaysUpstream(t *testing.T) {
	payload := []byte("\x00\x00\x00\x18ftypmp42 fake media payload")
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://animefire.plus/", r.Referer())
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(payload)
	}))
	defer upstream.Close()

	proxy := streamproxy.New(streamproxy.Options{Client: upstream.Client()})
	srv := newTestServer(new(mockLinks), proxy, &fakeCatalog{})

	rec := get(t, srv, "/api/stream_video?url="+url.QueryEscape(upstream.URL+"/a.mp4"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, payload, rec.Body.Bytes())
	assert.True(t, rec.Flushed)
}

func TestStreamVideoRelaysPartialContent(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-3/100")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("abcd"))
	}))
	defer upstream.Close()

	proxy := streamproxy.New(streamproxy.Options{Client: upstream.Client()})
	srv := newTestServer(new(mockLinks), proxy, &fakeCatalog{})

	rec := get(t, srv, "/api/stream_video?url="+url.QueryEscape(upstream.URL), http.Header{"Range": {"bytes=0-3"}})
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-3/100", rec.Header().Get("Content-Range"))
	assert.Equal(t, "abcd", rec.Body.String())
}

func TestStreamVideoUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer upstream.Close()

	proxy := streamproxy.New(streamproxy.Options{Client: upstream.Client()})
	srv := newTestServer(new(mockLinks), proxy, &fakeCatalog{})

	rec := get(t, srv, "/api/stream_video?url="+url.QueryEscape(upstream.URL), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Erro ao fazer proxy do vídeo", decodeError(t, rec))
}

func TestStreamVideoNonHTTPURLIsServerError(t *testing.T) {
	reg := metrics.New()
	srv := newTestServer(new(mockLinks), streamproxy.New(streamproxy.Options{Metrics: reg}), &fakeCatalog{})

	for _, raw := range []string{"file:///etc/passwd", "ftp://cdn/a.mp4", "not a url"} {
		rec := get(t, srv, "/api/stream_video?url="+url.QueryEscape(raw), nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, raw)
		assert.Equal(t, "Erro ao fazer proxy do vídeo", decodeError(t, rec), raw)
	}
	assert.Zero(t, testutil.CollectAndCount(reg.UpstreamFailures), "no upstream request may be attempted")
}

func TestListEndpointsReturnEmptyArrayOnFailure(t *testing.T) {
	srv := newTestServer(new(mockLinks), new(mockStreams), &fakeCatalog{err: errors.New("upstream down")})

	for _, target := range []string{"/api/latest_episodes", "/api/catalog", "/api/search?q=naruto"} {
		rec := get(t, srv, target, nil)
		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.JSONEq(t, `[]`, rec.Body.String(), target)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	catalog := &fakeCatalog{}
	srv := newTestServer(new(mockLinks), new(mockStreams), catalog)

	rec := get(t, srv, "/api/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Termo de busca não fornecido", decodeError(t, rec))
	assert.Empty(t, catalog.queries)
}

func TestAnimeProfile(t *testing.T) {
	english := "Frieren: Beyond Journey's End"
	catalog := &fakeCatalog{profile: &models.Profile{
		Title:        "Sousou no Frieren",
		EnglishTitle: &english,
		Episodes:     []models.ProfileEpisode{{EpisodeNumber: "1", Link: "https://site/ep/1"}},
	}}
	srv := newTestServer(new(mockLinks), new(mockStreams), catalog)

	rec := get(t, srv, "/api/anime_profile", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, srv, "/api/anime_profile?url=https://site/anime/frieren", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var profile models.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, "Sousou no Frieren", profile.Title)
	require.NotNil(t, profile.EnglishTitle)
	assert.Nil(t, profile.JapaneseTitle)

	catalog.err = errors.New("boom")
	rec = get(t, srv, "/api/anime_profile?url=https://site/anime/frieren", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(new(mockLinks), new(mockStreams), &fakeCatalog{})

	rec := get(t, srv, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","cached_links":3}`, rec.Body.String())

	rec = get(t, srv, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `goanime_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestPanicBecomesJSON500(t *testing.T) {
	links := new(mockLinks)
	links.On("VideoLink", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("nil map") })
	srv := newTestServer(links, new(mockStreams), &fakeCatalog{})

	rec := get(t, srv, "/api/video_link?url=https://site/ep/1", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, decodeError(t, rec))
}

func TestRequestIDIsPropagated(t *testing.T) {
	srv := newTestServer(new(mockLinks), new(mockStreams), &fakeCatalog{})

	rec := get(t, srv, "/healthz", http.Header{RequestIDHeader: {"abc-123"}})
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	rec = get(t, srv, "/healthz", http.Header{"x-request-id": {"lower-456"}})
	assert.Equal(t, "lower-456", rec.Header().Get(RequestIDHeader))
}

func TestCORSAllowsAnyOriginByDefault(t *testing.T) {
	srv := newTestServer(new(mockLinks), new(mockStreams), &fakeCatalog{})

	rec := get(t, srv, "/healthz", http.Header{"Origin": {"http://127.0.0.1:5000"}})
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
