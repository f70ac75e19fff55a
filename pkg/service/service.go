// Package service implements the upload and chat operations shared by the
// HTTP server and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xhad/askdoc/internal/models"
	"github.com/xhad/askdoc/internal/types"
	"github.com/xhad/askdoc/pkg/extract"
	"github.com/xhad/askdoc/pkg/ingest"
	"github.com/xhad/askdoc/pkg/scraper"
	"github.com/xhad/askdoc/pkg/session"
	"github.com/xhad/askdoc/pkg/workflow"
)

const DefaultMaxUploadBytes = 20 << 20

type Config struct {
	MaxUploadBytes int64
	MaxHistory     int
	// Scraper is the template for URL uploads; BaseURL is set per request.
	Scraper scraper.ScraperConfig
}

type UploadRequest struct {
	Data      []byte
	Filename  string
	SessionID string
}

type UploadResult struct {
	Status    string
	SessionID string
	Chunks    int
	Format    extract.Format
}

type ChatResult struct {
	Response string
	Sources  []string
	Partial  bool
}

type Service struct {
	config   Config
	pipeline *ingest.Pipeline
	workflow *workflow.Workflow
	sessions *session.Store
}

func New(pipeline *ingest.Pipeline, wf *workflow.Workflow, config Config) (*Service, error) {
	if pipeline == nil || wf == nil {
		return nil, fmt.Errorf("%w: service needs a pipeline and a workflow", types.ErrInvalidArgument)
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}

	s := &Service{config: config, pipeline: pipeline, workflow: wf}
	s.sessions = session.NewStore(session.StoreConfig{
		MaxHistory: config.MaxHistory,
		OnRelease:  s.release,
	})
	return s, nil
}

// Sessions exposes the session store.
func (s *Service) Sessions() *session.Store {
	return s.sessions
}

// Upload extracts, chunks, embeds and indexes a file and binds the result to
// a session. The session is only touched once ingestion has succeeded.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", types.ErrInvalidArgument)
	}
	if int64(len(req.Data)) > s.config.MaxUploadBytes {
		return nil, fmt.Errorf("%w: upload of %d bytes exceeds limit of %d", types.ErrInvalidArgument, len(req.Data), s.config.MaxUploadBytes)
	}

	text, format, err := extract.Text(req.Data, req.Filename)
	if err != nil {
		return nil, err
	}

	doc := models.Document{
		ID:      uuid.NewString(),
		Name:    req.Filename,
		Format:  string(format),
		Content: text,
		Metadata: map[string]interface{}{
			"size": len(req.Data),
		},
	}
	return s.ingest(ctx, doc, req.SessionID, format)
}

// UploadURL crawls a web page and ingests it like an uploaded file.
func (s *Service) UploadURL(ctx context.Context, rawURL, sessionID string) (*UploadResult, error) {
	cfg := s.config.Scraper
	cfg.BaseURL = rawURL

	sc, err := scraper.NewWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	pages, err := sc.Scrape(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no pages fetched from %s", types.ErrInvalidArgument, rawURL)
	}

	return s.ingest(ctx, scraper.Merge(rawURL, pages), sessionID, extract.FormatHTML)
}

func (s *Service) ingest(ctx context.Context, doc models.Document, sessionID string, format extract.Format) (*UploadResult, error) {
	var res ingest.Result
	results := s.pipeline.IngestAsync(ctx, doc)
	select {
	case res = <-results:
	case <-ctx.Done():
		go func() {
			if late := <-results; late.Context != nil {
				s.release(late.Context)
			}
		}()
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}

	id, err := s.sessions.CreateOrReplace(sessionID, res.Context)
	if err != nil {
		s.release(res.Context)
		return nil, err
	}

	log.Printf("Ingested %q into session %s: %d chunks", doc.Name, id, len(res.Context.Chunks))
	return &UploadResult{
		Status:    "ok",
		SessionID: id,
		Chunks:    len(res.Context.Chunks),
		Format:    format,
	}, nil
}

// Chat answers message within a session. Turns of one session run one at a
// time. Only fully answered turns are added to the history; a tool loop cut
// short returns its partial answer without recording it.
func (s *Service) Chat(ctx context.Context, sessionID, message string) (*ChatResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: empty message", types.ErrInvalidArgument)
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	var result *ChatResult
	err = sess.Do(func() error {
		doc := sess.Context()

		answer, err := s.workflow.Run(ctx, doc, sess.History(), message)
		if err != nil {
			if errors.Is(err, types.ErrToolLoopExceeded) && answer != nil {
				log.Printf("Session %s: %v", sessionID, err)
				result = &ChatResult{Response: answer.Text, Sources: answer.Sources, Partial: true}
				return nil
			}
			return err
		}

		// A re-upload or delete while the turn ran leaves the answer unrecorded.
		if !s.sessions.RecordTurn(sess, doc, message, answer.Text) {
			log.Printf("Session %s changed during the turn; answer not recorded", sessionID)
		}

		result = &ChatResult{Response: answer.Text, Sources: answer.Sources}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Health reports liveness.
func (s *Service) Health() map[string]string {
	return map[string]string{"status": "ok"}
}

// DeleteSession forgets a session and frees its index.
func (s *Service) DeleteSession(_ context.Context, id string) error {
	return s.sessions.Delete(id)
}

// Janitor evicts sessions idle for longer than ttl until ctx is done.
func (s *Service) Janitor(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.sessions.EvictIdle(now, ttl); n > 0 {
				log.Printf("Evicted %d idle sessions", n)
			}
		}
	}
}

// Close releases every session.
func (s *Service) Close() {
	s.sessions.Close()
}

func (s *Service) release(doc *types.DocumentContext) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.pipeline.Release(ctx, doc); err != nil {
		log.Printf("Error releasing document context: %v", err)
	}
}
