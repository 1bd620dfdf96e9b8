package hub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/genricoloni/nowplayer/internal/domain"
	"github.com/genricoloni/nowplayer/internal/nowplaying"
)

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)

	s.router.Get(WebSocketPath, s.handleWebSocket)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.requestLogger)

		r.Get("/status", s.handleStatus)
		r.Get("/now-playing", s.handleNowPlaying)
		r.Get("/artwork", s.handleArtwork)
		r.Get("/events", s.handleEvents)
		r.Post("/commands/{command}", s.handleCommand)
	})
}

type statusResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	Sessions  int    `json:"sessions"`
}

type nowPlayingResponse struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	AlbumArtURL string `json:"albumArtUrl,omitempty"`
	HasArtwork  bool   `json:"hasArtwork"`
	IsPlaying   bool   `json:"isPlaying"`
	Position    int64  `json:"position"`
	Duration    int64  `json:"duration"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	ReceivedAt  int64  `json:"receivedAt"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:    s.Status(),
		Connected: s.IsConnected(),
		Sessions:  s.registry.Count(),
	})
}

func (s *Server) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	u, ok := s.store.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, newNowPlayingResponse(u, s.extrapolator.Position()))
}

// newNowPlayingResponse renders u with the given display position
func newNowPlayingResponse(u nowplaying.Update, positionMs int64) nowPlayingResponse {
	snap := u.Snapshot
	return nowPlayingResponse{
		Title:       snap.Title,
		Artist:      snap.Artist,
		Album:       snap.Album,
		AlbumArtURL: snap.Artwork.URL,
		HasArtwork:  len(snap.Artwork.Data) > 0,
		IsPlaying:   snap.IsPlaying,
		Position:    positionMs,
		Duration:    snap.DurationMs,
		Timestamp:   snap.CapturedAtMs,
		ReceivedAt:  u.ReceivedAt.UnixMilli(),
	}
}

// handleArtwork serves the artwork blob exactly as received
func (s *Server) handleArtwork(w http.ResponseWriter, r *http.Request) {
	u, ok := s.store.Latest()
	if !ok || len(u.Snapshot.Artwork.Data) == 0 {
		writeError(w, http.StatusNotFound, "no artwork")
		return
	}
	data := u.Snapshot.Artwork.Data
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := domain.ParseCommand(chi.URLParam(r, "command"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.commandLimit.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many commands")
		return
	}

	sessions := s.registry.Count()
	delivered, err := s.SendCommand(cmd)
	resp := map[string]any{
		"command":   cmd,
		"delivered": delivered,
		"sessions":  sessions,
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleEvents streams now-playing updates as server-sent events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	updates := s.store.Subscribe()
	defer s.store.Unsubscribe(updates)

	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			// Events carry the authoritative position; clients extrapolate themselves
			data, err := json.Marshal(newNowPlayingResponse(u, u.Snapshot.PositionMs))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("API request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
