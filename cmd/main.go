package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	cfgPkg "github.com/xhad/askdoc/pkg/config"
	"github.com/xhad/askdoc/pkg/service"
	"github.com/xhad/askdoc/server"
)

type Flags struct {
	ConfigPath string
	File       string
	URL        string
	SessionID  string
	Serve      bool
	Addr       string
	Model      string
	OllamaURL  string
	Plain      bool
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Error loading .env: %v", err)
	}

	flags := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Flags {
	var f Flags

	flag.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&f.File, "file", "", "Document to load before chatting")
	flag.StringVar(&f.URL, "url", "", "Web page to load before chatting")
	flag.StringVar(&f.SessionID, "session", "", "Session id to use")
	flag.BoolVar(&f.Serve, "serve", false, "Run the HTTP and WebSocket server")
	flag.StringVar(&f.Addr, "addr", "", "Server listen address (overrides config)")
	flag.StringVar(&f.Model, "model", "", "LLM model to use (overrides config)")
	flag.StringVar(&f.OllamaURL, "ollama-url", "", "Ollama server URL (overrides config)")
	flag.BoolVar(&f.Plain, "plain", false, "Disable coloured output")
	flag.Parse()

	return f
}

func loadConfig(f Flags) (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(f.ConfigPath)
	if err != nil {
		return nil, err
	}

	// Override config with command line flags if provided
	if f.Model != "" {
		cfg.LLM.Model = f.Model
	}
	if f.OllamaURL != "" {
		if cfg.LLM.Provider == "ollama" {
			cfg.LLM.BaseURL = f.OllamaURL
		}
		if cfg.Embedder.Provider == "ollama" {
			cfg.Embedder.BaseURL = f.OllamaURL
		}
	}
	if f.Addr != "" {
		cfg.Server.Addr = f.Addr
	}
	if f.Plain {
		cfg.UI.Theme = "plain"
	}

	return cfg, nil
}

func run(ctx context.Context, f Flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.UI.Theme == "plain" {
		color.NoColor = true
	}

	app, err := service.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer app.Close()

	if f.Serve {
		srv := server.New(app.Service, server.Config{
			Addr:           cfg.Server.Addr,
			MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
			RequestTimeout: cfg.Server.RequestTimeout,
			IdleTTL:        cfg.Session.IdleTTL,
		})
		return srv.ListenAndServe(ctx)
	}

	return chatLoop(ctx, app, f)
}
