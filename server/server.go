// Package server exposes the service over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xhad/askdoc/internal/types"
	"github.com/xhad/askdoc/pkg/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// multipartOverhead is the allowance for form fields and part headers on top
// of the file itself.
const multipartOverhead = 1 << 20

// Message is the WebSocket frame in both directions.
type Message struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Content   string      `json:"content"`
	Data      interface{} `json:"data,omitempty"`
}

type Config struct {
	Addr           string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	// IdleTTL evicts sessions untouched for this long. Zero disables eviction.
	IdleTTL time.Duration
}

type Server struct {
	config Config
	svc    *service.Service
	mux    *http.ServeMux
}

func New(svc *service.Service, config Config) *Server {
	if config.Addr == "" {
		config.Addr = ":8000"
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = service.DefaultMaxUploadBytes
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 2 * time.Minute
	}

	s := &Server{config: config, svc: svc, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go s.svc.Janitor(janitorCtx, s.config.IdleTTL)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Printf("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

type uploadResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Chunks    int    `json:"chunks"`
	Format    string `json:"format"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, fmt.Errorf("%w: %w", types.ErrInvalidArgument, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	sessionID := r.FormValue("session_id")

	var (
		res *service.UploadResult
		err error
	)
	if rawURL := r.FormValue("url"); rawURL != "" {
		res, err = s.svc.UploadURL(ctx, rawURL, sessionID)
	} else {
		file, header, ferr := r.FormFile("file")
		if ferr != nil {
			writeError(w, fmt.Errorf("%w: a file or url field is required", types.ErrInvalidArgument))
			return
		}
		defer file.Close()

		data, rerr := io.ReadAll(file)
		if rerr != nil {
			writeError(w, fmt.Errorf("%w: %w", types.ErrInvalidArgument, rerr))
			return
		}
		res, err = s.svc.Upload(ctx, service.UploadRequest{
			Data:      data,
			Filename:  header.Filename,
			SessionID: sessionID,
		})
	}
	if err != nil {
		log.Printf("Upload failed: %v", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Status:    res.Status,
		SessionID: res.SessionID,
		Chunks:    res.Chunks,
		Format:    string(res.Format),
	})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Response string   `json:"response"`
	Sources  []string `json:"sources"`
	Partial  bool     `json:"partial,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON body: %w", types.ErrInvalidArgument, err))
		return
	}

	res, err := s.svc.Chat(ctx, req.SessionID, req.Message)
	if err != nil {
		log.Printf("Chat failed for session %s: %v", req.SessionID, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newChatResponse(res))
}

func newChatResponse(res *service.ChatResult) chatResponse {
	sources := res.Sources
	if sources == nil {
		sources = []string{}
	}
	return chatResponse{Response: res.Response, Sources: sources, Partial: res.Partial}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Health())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket serves chat over a WebSocket. Frames are handled in order,
// one at a time per connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ws := &wsConn{conn: conn}
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Error reading message: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			ws.send(Message{Type: "error", Content: "invalid message"})
			continue
		}
		s.handleMessage(r.Context(), ws, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, ws *wsConn, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	switch msg.Type {
	case "url":
		ws.send(Message{Type: "status", SessionID: msg.SessionID, Content: fmt.Sprintf("Processing URL: %s", msg.Content)})
		res, err := s.svc.UploadURL(ctx, msg.Content, msg.SessionID)
		if err != nil {
			ws.send(Message{Type: "error", SessionID: msg.SessionID, Content: detail(err)})
			return
		}
		ws.send(Message{
			Type:      "status",
			SessionID: res.SessionID,
			Content:   fmt.Sprintf("Indexed %d chunks", res.Chunks),
		})
	case "chat", "":
		res, err := s.svc.Chat(ctx, msg.SessionID, msg.Content)
		if err != nil {
			ws.send(Message{Type: "error", SessionID: msg.SessionID, Content: detail(err)})
			return
		}
		ws.send(Message{
			Type:      "response",
			SessionID: msg.SessionID,
			Content:   res.Response,
			Data:      newChatResponse(res),
		})
	default:
		ws.send(Message{Type: "error", SessionID: msg.SessionID, Content: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]string{"detail": detail(err)})
}

func statusOf(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, types.ErrSessionNotFound):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, types.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// detail is the client-facing error text. Internal failures are not echoed.
func detail(err error) string {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)
	case errors.Is(err, types.ErrSessionNotFound):
		return "no context"
	case errors.Is(err, types.ErrUnsupportedFormat), errors.Is(err, types.ErrInvalidArgument):
		return err.Error()
	case errors.Is(err, types.ErrUnreadableDocument):
		return "processing error: " + err.Error()
	default:
		return "processing error"
	}
}
