package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/askdoc/internal/types"
	"github.com/xhad/askdoc/pkg/llm"
	"github.com/xhad/askdoc/pkg/service"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

// startSpinner renders an indeterminate spinner until the returned func is
// called.
func startSpinner(description string) func() {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
		_ = bar.Finish()
	}
}

type chatSession struct {
	app       *service.App
	sessionID string
}

func (cs *chatSession) loadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	stop := startSpinner(fmt.Sprintf(" Indexing %s...", path))
	res, err := cs.app.Service.Upload(ctx, service.UploadRequest{
		Data:      data,
		Filename:  path,
		SessionID: cs.sessionID,
	})
	stop()
	if err != nil {
		return err
	}

	cs.sessionID = res.SessionID
	color.Green("✓ Indexed %s (%s) into %d chunks\n", path, res.Format, res.Chunks)
	return nil
}

func (cs *chatSession) loadURL(ctx context.Context, url string) error {
	stop := startSpinner(fmt.Sprintf(" Scraping %s...", url))
	res, err := cs.app.Service.UploadURL(ctx, url, cs.sessionID)
	stop()
	if err != nil {
		return err
	}

	cs.sessionID = res.SessionID
	color.Green("✓ Indexed %s into %d chunks\n", url, res.Chunks)
	return nil
}

func (cs *chatSession) ask(ctx context.Context, query string) error {
	if cs.sessionID == "" {
		return errors.New("no document loaded; use /load <path> or paste a URL first")
	}

	stop := startSpinner(" Thinking...")
	res, err := cs.app.Service.Chat(ctx, cs.sessionID, query)
	stop()
	if err != nil {
		return err
	}

	assistant := color.New(color.FgCyan).PrintfFunc()
	assistant("\nAssistant: ")
	fmt.Println(res.Response)
	if res.Partial {
		color.Yellow("(answer incomplete: tool call limit reached)")
	}
	if !cs.app.Config.UI.HideSources && len(res.Sources) > 0 {
		color.HiBlack(strings.TrimPrefix(llm.FormatSources(res.Sources), "\n"))
	}
	return nil
}

func chatLoop(ctx context.Context, app *service.App, f Flags) error {
	cs := &chatSession{app: app, sessionID: f.SessionID}

	if f.File != "" {
		if err := cs.loadFile(ctx, f.File); err != nil {
			return err
		}
	}
	if f.URL != "" {
		if err := cs.loadURL(ctx, f.URL); err != nil {
			return err
		}
	}

	color.Cyan("\nChat with your documents (type 'exit' to quit, '/load <path>' to load a file)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			return nil
		}

		query := strings.TrimSpace(scanner.Text())
		switch {
		case query == "":
			continue
		case strings.EqualFold(query, "exit"):
			return nil
		case strings.HasPrefix(query, "/load "):
			if err := cs.loadFile(ctx, strings.TrimSpace(strings.TrimPrefix(query, "/load "))); err != nil {
				printError(err)
			}
			continue
		}

		if url := urlRegex.FindString(query); url != "" {
			color.Blue("\nDetected URL: %s", url)
			if err := cs.loadURL(ctx, url); err != nil {
				printError(err)
				continue
			}
			if query == url {
				continue
			}
		}

		if err := cs.ask(ctx, query); err != nil {
			printError(err)
		}
	}

	return scanner.Err()
}

func printError(err error) {
	switch {
	case errors.Is(err, types.ErrSessionNotFound):
		color.Red("No document loaded for this session\n")
	case errors.Is(err, types.ErrModelTimeout):
		color.Red("The model did not answer in time: %v\n", err)
	default:
		color.Red("Error: %v\n", err)
	}
}
