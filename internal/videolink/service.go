// Package videolink answers "what is the direct media URL for this episode
// page?" from the link cache, falling back to a browser resolution.
package videolink

import (
	"context"
	"fmt"
	"time"

	"github.com/alvarorichard/goanime-server/internal/linkcache"
	"github.com/alvarorichard/goanime-server/internal/metrics"
	"github.com/alvarorichard/goanime-server/internal/util"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

var (
	ErrMissingURL = errors.New("episode URL not provided")
	// ErrCachePersistence is returned when a resolved link could not be
	// written to the cache; the link is not served in that case.
	ErrCachePersistence = errors.New("could not persist resolved video link")
)

// DefaultResolveTimeout bounds a shared resolution once every caller is gone.
const DefaultResolveTimeout = 60 * time.Second

// Resolver turns an episode page URL into a direct media URL.
type Resolver interface {
	Resolve(ctx context.Context, episodeURL string) (string, error)
}

// Service is safe for concurrent use.
type Service struct {
	cache    linkcache.Store
	resolver Resolver
	metrics  *metrics.Registry
	timeout  time.Duration
	group    singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records cache and resolver activity in reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Service) { s.metrics = reg }
}

// WithResolveTimeout overrides DefaultResolveTimeout.
func WithResolveTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(cache linkcache.Store, resolver Resolver, opts ...Option) *Service {
	s := &Service{
		cache:    cache,
		resolver: resolver,
		timeout:  DefaultResolveTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VideoLink returns the cached link for episodeURL or resolves, stores and
// returns it. Concurrent misses for the same URL share one resolution.
func (s *Service) VideoLink(ctx context.Context, episodeURL string) (string, error) {
	if episodeURL == "" {
		return "", ErrMissingURL
	}

	if link, ok := s.cache.Get(episodeURL); ok {
		s.countLookup("hit")
		util.Debug("Video link served from cache", "url", episodeURL)
		return link, nil
	}
	s.countLookup("miss")

	// The shared call outlives any single caller so a disconnect does not
	// fail everyone else waiting on the same episode.
	ch := s.group.DoChan(episodeURL, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.resolveAndStore(rctx, episodeURL)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			util.Debug("Joined in-flight resolution", "url", episodeURL)
		}
		return res.Val.(string), nil
	}
}

func (s *Service) resolveAndStore(ctx context.Context, episodeURL string) (string, error) {
	// A caller that lost the race to a finished flight finds the link here.
	if link, ok := s.cache.Get(episodeURL); ok {
		return link, nil
	}

	start := time.Now()
	link, err := s.resolver.Resolve(ctx, episodeURL)
	s.observeResolve(time.Since(start), err)
	if err != nil {
		return "", err
	}

	if err := s.cache.Put(episodeURL, link); err != nil {
		util.Error("Failed to persist video link", "url", episodeURL, "err", err)
		return "", fmt.Errorf("%w: %w", ErrCachePersistence, err)
	}
	util.Info("Video link cached", "url", episodeURL)
	return link, nil
}

func (s *Service) countLookup(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.CacheLookups.WithLabelValues(result).Inc()
}

func (s *Service) observeResolve(d time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.metrics.Resolutions.WithLabelValues(outcome).Inc()
	s.metrics.ResolveDuration.Observe(d.Seconds())
}
