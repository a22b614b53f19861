package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/pkg/browser"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/krau/autotagger/config"
	"github.com/krau/autotagger/logging"
	"github.com/krau/autotagger/metrics"
	"github.com/krau/autotagger/onnx"
	"github.com/krau/autotagger/server"
	"github.com/krau/autotagger/tagger/rrj"
	"github.com/krau/autotagger/tagger/wdv3"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.C()
	if err := config.LoadErr(); err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logging.Setup(cfg.Log)
	slog.Info("Starting autotagger")

	m := metrics.New()
	opts := server.Options{Config: cfg, Metrics: m}

	// A backend that fails to come up leaves its endpoint unavailable
	// instead of taking the whole service down.
	if wd, err := wdv3.New(cfg.WDv3); err != nil {
		slog.Error("wd-vit-tagger-v3 failed to initialize", slog.String("error", err.Error()))
	} else {
		opts.WDv3 = wd
		if err := wd.Ready(); err != nil {
			slog.Warn("wd-vit-tagger-v3 script is missing, its endpoint will fail until it appears",
				slog.String("error", err.Error()))
		}
	}
	m.SetModelLoaded(wdv3.Name, opts.WDv3 != nil && opts.WDv3.Ready() == nil)

	ortReady := false
	if p := onnx.LibPath(); p != "" {
		ort.SetSharedLibraryPath(p)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("Failed to initialize ONNX Runtime environment, the RedRocket endpoint will be unavailable",
			slog.String("error", err.Error()))
	} else {
		ortReady = true
		defer ort.DestroyEnvironment()
	}
	if ortReady {
		if t, err := rrj.New(cfg.RRJ); err != nil {
			slog.Error("RedRocket joint tagger failed to initialize, its endpoint will be unavailable",
				slog.String("error", err.Error()))
		} else {
			opts.RRJ = t
			defer t.Close()
		}
	}
	m.SetModelLoaded(rrj.Name, opts.RRJ != nil)

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(opts)

	httpSrv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.Handler(),
	}
	go func() {
		slog.Info("Listening on", slog.String("address", cfg.Addr()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	printBanner()

	if cfg.OpenBrowser {
		url := fmt.Sprintf("http://%s/", cfg.Addr())
		if err := browser.OpenURL(url); err != nil {
			slog.Warn("Could not open browser, navigate there manually",
				slog.String("url", url), slog.String("error", err.Error()))
		}
	}

	<-ctx.Done()
	slog.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", slog.String("error", err.Error()))
	}
}

const bannerMessage = "DO NOT CLOSE THIS WINDOW! The API server is running."

func printBanner() {
	const padding = 3
	inner := len(bannerMessage) + 2*padding
	border := strings.Repeat("*", inner+2)
	empty := "*" + strings.Repeat(" ", inner) + "*"
	message := "*" + strings.Repeat(" ", padding) + bannerMessage + strings.Repeat(" ", padding) + "*"

	if isatty.IsTerminal(os.Stdout.Fd()) {
		const (
			bold   = "\033[1m"
			yellow = "\033[93m"
			reset  = "\033[0m"
		)
		border = yellow + border + reset
		empty = yellow + "*" + reset + strings.Repeat(" ", inner) + yellow + "*" + reset
		message = yellow + "*" + reset + strings.Repeat(" ", padding) +
			bold + yellow + bannerMessage + reset +
			strings.Repeat(" ", padding) + yellow + "*" + reset
	}

	fmt.Println()
	fmt.Println(border)
	fmt.Println(empty)
	fmt.Println(message)
	fmt.Println(empty)
	fmt.Println(border)
	fmt.Println()
}
