// Package scraper provides web scraping functionality for animefire.plus
package scraper

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvarorichard/goanime-server/internal/models"
	"github.com/alvarorichard/goanime-server/internal/util"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	AnimefireBase = "https://animefire.plus"

	catalogPath = "/lista-de-animes-legendados"
	searchPath  = "/pesquisar/"

	imageNotFound    = "Imagem não encontrada"
	titleNotFound    = "Título não encontrado"
	synopsisNotFound = "Sinopse não encontrada"
)

// ErrUpstream is returned when the source site answers with a non-200 status.
var ErrUpstream = errors.New("source site unavailable")

// TTLs controls how long each kind of scraped page is served from memory.
type TTLs struct {
	Latest  time.Duration
	Catalog time.Duration
	Search  time.Duration
	Profile time.Duration
}

// Options configures an AnimefireClient. Zero values fall back to defaults.
type Options struct {
	BaseURL           string
	UserAgent         string
	Client            *http.Client
	RequestsPerSecond float64
	Burst             int
	TTLs              TTLs
}

// AnimefireClient handles interactions with Animefire.plus
type AnimefireClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
	cache     *cache.Cache
	ttls      TTLs
}

// NewAnimefireClient creates a new Animefire client
func NewAnimefireClient(opts Options) *AnimefireClient {
	if opts.BaseURL == "" {
		opts.BaseURL = AnimefireBase
	}
	if opts.Client == nil {
		opts.Client = util.GetSharedClient()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = util.UserAgent
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	return &AnimefireClient{
		client:    opts.Client,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		limiter:   rate.NewLimiter(limit, opts.Burst),
		cache:     cache.New(cache.NoExpiration, 10*time.Minute),
		ttls:      opts.TTLs,
	}
}

// LatestEpisodes scrapes the "latest episodes" cards of the home page.
func (c *AnimefireClient) LatestEpisodes(ctx context.Context) ([]models.LatestEpisode, error) {
	return cached(c, "latest", c.ttls.Latest, func() ([]models.LatestEpisode, error) {
		doc, err := c.fetchDocument(ctx, c.baseURL+"/")
		if err != nil {
			return nil, err
		}

		episodes := make([]models.LatestEpisode, 0)
		doc.Find("div.divCardUltimosEpsHome").Each(func(i int, s *goquery.Selection) {
			link := s.Find("a").First()
			title := s.Find("h3.animeTitle").First()
			image := s.Find("img.imgAnimesUltimosEps").First()
			number := s.Find("span.numEp").First()
			if link.Length() == 0 || title.Length() == 0 || image.Length() == 0 || number.Length() == 0 {
				return
			}

			src, ok := image.Attr("data-src")
			if !ok {
				util.Debug("skipping latest episode card without image", "index", i)
				return
			}

			name, _, _ := strings.Cut(strings.TrimSpace(title.Text()), " - Episódio")
			episodes = append(episodes, models.LatestEpisode{
				Title:         strings.TrimSpace(name),
				EpisodeNumber: strings.TrimSpace(number.Text()),
				Link:          link.AttrOr("href", ""),
				ImageURL:      c.resolveURL(src),
			})
		})
		return episodes, nil
	})
}

// Catalog scrapes the full list of subtitled anime.
func (c *AnimefireClient) Catalog(ctx context.Context) ([]models.AnimeCard, error) {
	return cached(c, "catalog", c.ttls.Catalog, func() ([]models.AnimeCard, error) {
		doc, err := c.fetchDocument(ctx, c.baseURL+catalogPath)
		if err != nil {
			return nil, err
		}
		return c.parseCards(doc, "div.divCardUltimosEps", "img.imgAnimes", true), nil
	})
}

// Search scrapes the search results page for query.
func (c *AnimefireClient) Search(ctx context.Context, query string) ([]models.AnimeCard, error) {
	slug := TreatingAnimeName(query)
	return cached(c, "search:"+slug, c.ttls.Search, func() ([]models.AnimeCard, error) {
		doc, err := c.fetchDocument(ctx, c.baseURL+searchPath+url.PathEscape(slug))
		if err != nil {
			return nil, err
		}
		return c.parseCards(doc, "div.divCardContainer", "img.imgAnimesUltimosEps", false), nil
	})
}

// Profile scrapes title, alternative names, cover, synopsis and the episode
// list of an anime profile page.
func (c *AnimefireClient) Profile(ctx context.Context, animeURL string) (*models.Profile, error) {
	return cached(c, "profile:"+animeURL, c.ttls.Profile, func() (*models.Profile, error) {
		doc, err := c.fetchDocument(ctx, animeURL)
		if err != nil {
			return nil, err
		}
		return c.parseProfile(doc), nil
	})
}

func (c *AnimefireClient) parseCards(doc *goquery.Document, cardSelector, imageSelector string, srcFallback bool) []models.AnimeCard {
	cards := make([]models.AnimeCard, 0)
	doc.Find(cardSelector).Each(func(i int, s *goquery.Selection) {
		link := s.Find("a").First()
		title := s.Find("h3.animeTitle").First()
		image := s.Find(imageSelector).First()
		if link.Length() == 0 || title.Length() == 0 || image.Length() == 0 {
			return
		}

		src := image.AttrOr("data-src", "")
		if src == "" && srcFallback {
			src = image.AttrOr("src", "")
		}
		if src == "" {
			util.Debug("skipping card without image", "selector", cardSelector, "index", i)
			return
		}

		cards = append(cards, models.AnimeCard{
			Title:    strings.TrimSpace(title.Text()),
			Link:     link.AttrOr("href", ""),
			ImageURL: c.resolveURL(src),
		})
	})
	return cards
}

func (c *AnimefireClient) parseProfile(doc *goquery.Document) *models.Profile {
	profile := &models.Profile{
		Title:    titleNotFound,
		ImageURL: imageNotFound,
		Synopsis: synopsisNotFound,
		Episodes: make([]models.ProfileEpisode, 0),
	}

	if title := doc.Find("h1.anime-title").First(); title.Length() > 0 {
		profile.Title = strings.TrimSpace(title.Text())
	}

	names := doc.Find("div.div_anime_names").First().Find("h6")
	if names.Length() > 0 {
		english := strings.TrimSpace(names.Eq(0).Text())
		profile.EnglishTitle = &english
	}
	if names.Length() > 1 {
		japanese := strings.TrimSpace(names.Eq(1).Text())
		profile.JapaneseTitle = &japanese
	}

	if img := doc.Find("div.anime-cover-poster img").First(); img.Length() > 0 {
		src := img.AttrOr("src", "")
		if src == "" {
			src = img.AttrOr("data-src", "")
		}
		if src != "" {
			profile.ImageURL = c.resolveURL(src)
		}
	}

	if synopsis := doc.Find("p.anime-synopsis").First(); synopsis.Length() > 0 {
		profile.Synopsis = strings.TrimSpace(synopsis.Text())
	}

	doc.Find("div.div_video_list a.lEp").Each(func(i int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		profile.Episodes = append(profile.Episodes, models.ProfileEpisode{
			EpisodeNumber: strings.ReplaceAll(strings.TrimSpace(s.Text()), "Episódio ", ""),
			Link:          c.resolveURL(href),
		})
	})

	return profile
}

// fetchDocument downloads pageURL and parses it with goquery.
func (c *AnimefireClient) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	util.Debug("fetching page", "url", pageURL)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to make request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusForbidden {
			return nil, errors.Wrap(ErrUpstream, "access restricted: VPN may be required")
		}
		return nil, errors.Wrapf(ErrUpstream, "server returned: %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse HTML")
	}
	return doc, nil
}

// resolveURL resolves relative URLs against the site base, like a browser would
func (c *AnimefireClient) resolveURL(ref string) string {
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return ref
	}
	resolved, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return resolved.String()
}

// TreatingAnimeName turns a free-text query into the slug the search page expects.
func TreatingAnimeName(animeName string) string {
	loweredName := strings.ToLower(strings.TrimSpace(animeName))
	return strings.ReplaceAll(loweredName, " ", "-")
}

func cached[T any](c *AnimefireClient, key string, ttl time.Duration, fetch func() (T, error)) (T, error) {
	if ttl > 0 {
		if v, ok := c.cache.Get(key); ok {
			return v.(T), nil
		}
	}

	v, err := fetch()
	if err != nil {
		return v, err
	}
	if ttl > 0 {
		c.cache.Set(key, v, ttl)
	}
	return v, nil
}
