package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/alvarorichard/goanime-server/internal/config"
	"github.com/alvarorichard/goanime-server/internal/util"
	"github.com/alvarorichard/goanime-server/internal/version"
	"github.com/alvarorichard/goanime-server/internal/web"
)

const binary = "goanime-web"

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
		util.Helper(binary, "browsing pages backed by goanime-api")
		return
	}

	util.SetDebugMode(*debugFlag)
	util.InitLogger(binary)

	if err := run(*configFlag); err != nil {
		log.Fatalln(util.ErrorHandler(err))
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Video link resolution can take a full browser round trip.
	client := &http.Client{Timeout: cfg.Web.Timeout}
	handler, err := web.NewHandler(web.NewAPIClient(cfg.Web.APIURL, client), cfg.Web.PublicAPIURL)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Web.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		util.Info("Starting server", "addr", cfg.Web.Addr, "api", cfg.Web.APIURL, "version", version.Version)
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
