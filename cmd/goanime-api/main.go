package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alvarorichard/goanime-server/internal/api"
	"github.com/alvarorichard/goanime-server/internal/config"
	"github.com/alvarorichard/goanime-server/internal/linkcache"
	"github.com/alvarorichard/goanime-server/internal/metrics"
	"github.com/alvarorichard/goanime-server/internal/resolver"
	"github.com/alvarorichard/goanime-server/internal/scraper"
	"github.com/alvarorichard/goanime-server/internal/streamproxy"
	"github.com/alvarorichard/goanime-server/internal/util"
	"github.com/alvarorichard/goanime-server/internal/version"
	"github.com/alvarorichard/goanime-server/internal/videolink"
)

const binary = "goanime-api"

func main() {
	configFlag := flag.String("config", "", "path to a YAML config file")
	versionFlag := flag.Bool("version", false, "show version information")
	debugFlag := flag.Bool("debug", false, "enable debug mode")
	helpFlag := flag.Bool("help", false, "show help message")
	altHelpFlag := flag.Bool("h", false, "show help message")

	flag.Parse()

	if *versionFlag {
		version.ShowVersion(binary)
		return
	}

	if *helpFlag || *altHelpFlag {
		util.Helper(binary, "animefire data API and video relay")
		return
	}

	util.SetDebugMode(*debugFlag)
	util.InitLogger(binary)

	if err := run(*configFlag); err != nil {
		log.Fatalln(util.ErrorHandler(err))
	}
}

func run(configPath string) error {
	startAll := time.Now()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := linkcache.Open(cfg.Cache.Backend, cfg.Cache.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			util.Warn("Failed to close link cache", "err", err)
		}
	}()
	util.Info("Link cache ready", "backend", cfg.Cache.Backend, "path", cfg.Cache.Path, "entries", store.Len())

	if cfg.Resolver.Install {
		if err := resolver.InstallDriver(); err != nil {
			return err
		}
	}
	browser, err := resolver.StartPlaywright(resolver.LaunchOptions{
		UserAgent:      cfg.Source.UserAgent,
		ExecutablePath: cfg.Resolver.ExecutablePath,
		Headless:       cfg.Resolver.Headless,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := browser.Close(); err != nil {
			util.Warn("Failed to stop playwright", "err", err)
		}
	}()

	reg := metrics.New()

	links := videolink.New(store,
		resolver.New(browser, resolver.Options{
			PlayButtonSelector: cfg.Resolver.PlayButtonSelector,
			VideoSelector:      cfg.Resolver.VideoSelector,
			NavigationTimeout:  cfg.Resolver.NavigationTimeout,
			PlayButtonTimeout:  cfg.Resolver.PlayButtonTimeout,
			VideoTimeout:       cfg.Resolver.VideoTimeout,
			SettleDelay:        cfg.Resolver.SettleDelay,
		}),
		videolink.WithMetrics(reg),
		videolink.WithResolveTimeout(cfg.Resolver.Timeout),
	)

	streams := streamproxy.New(streamproxy.Options{
		Client:      util.NewStreamingClient(cfg.Stream.DialTimeout, cfg.Stream.ResponseHeaderTimeout),
		Referer:     cfg.Stream.Referer,
		UserAgent:   cfg.Source.UserAgent,
		ChunkSize:   cfg.Stream.ChunkSize,
		IdleTimeout: cfg.Stream.IdleTimeout,
		Metrics:     reg,
	})

	catalog := scraper.NewAnimefireClient(scraper.Options{
		BaseURL:           cfg.Source.BaseURL,
		UserAgent:         cfg.Source.UserAgent,
		RequestsPerSecond: cfg.Scraper.RequestsPerSecond,
		Burst:             cfg.Scraper.Burst,
		TTLs: scraper.TTLs{
			Latest:  cfg.Scraper.LatestTTL,
			Catalog: cfg.Scraper.CatalogTTL,
			Search:  cfg.Scraper.SearchTTL,
			Profile: cfg.Scraper.ProfileTTL,
		},
	})

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewServer(api.Dependencies{
			Links:       links,
			Streams:     streams,
			Catalog:     catalog,
			Cache:       store,
			Metrics:     reg,
			CORSOrigins: cfg.Server.CORSOrigins,
		}),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		util.Info("Starting server", "addr", cfg.Server.Addr, "version", version.Version, "boot", time.Since(startAll).Round(time.Millisecond))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	util.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
