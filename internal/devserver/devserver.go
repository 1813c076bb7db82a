// Package devserver implements an in-memory parley backend for local
// development and tests. It speaks the same REST and SSE surface as the
// production service, including idempotency-key convergence on session
// creation, so the client stack can be exercised end to end without
// network access.
package devserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"

	"parley/pkg/chat"
)

// Config tunes the dev backend.
type Config struct {
	Model     string        // model name echoed in replies (default parley-lite)
	ChunkSize int           // runes per SSE chunk (default 12)
	Latency   time.Duration // pause between SSE chunks (default none)
	Log       *slog.Logger  // defaults to JSON on stdout
}

func (c Config) withDefaults() Config {
	out := c
	if out.Model == "" {
		out.Model = "parley-lite"
	}
	if out.ChunkSize <= 0 {
		out.ChunkSize = 12
	}
	if out.Log == nil {
		out.Log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return out
}

// Server holds the in-memory backend state. Safe for concurrent use.
type Server struct {
	cfg Config
	log *slog.Logger

	mu          sync.Mutex
	sessionSeq  int
	messageSeq  int
	attachSeq   int
	sessions    map[string]*chat.Session
	messages    map[string][]chat.Message
	idempotency map[string]string // idempotency key -> session id
	nowFunc     func() time.Time
}

// New builds an empty dev backend.
func New(cfg Config) *Server {
	resolved := cfg.withDefaults()
	return &Server{
		cfg:         resolved,
		log:         resolved.Log,
		sessions:    make(map[string]*chat.Session),
		messages:    make(map[string][]chat.Message),
		idempotency: make(map[string]string),
		nowFunc:     time.Now,
	}
}

// Handler returns the HTTP surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions", s.handleListSessions)
		r.Patch("/sessions/{id}", s.handleUpdateSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
		r.Get("/sessions/{id}/messages", s.handleMessages)
		r.Post("/completions", s.handleCompletion)
		r.Post("/attachments", s.handleAttachment)
		r.Post("/titles", s.handleTitle)
	})
	return r
}

// --- Sessions ---

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string          `json:"model"`
		Tools map[string]bool `json:"tools"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	sess := s.findOrCreateLocked(r.Header.Get("Idempotency-Key"), req.Model, req.Tools)
	out := sess.Clone()
	s.mu.Unlock()

	s.log.Info("session created", "id", out.ID, "model", out.Model)
	writeJSON(w, http.StatusCreated, out)
}

// findOrCreateLocked resolves an idempotency key to its existing session or
// mints a new one. Completion requests without a session id share this path
// so an implicit create and an explicit create carrying the same key land on
// one conversation.
func (s *Server) findOrCreateLocked(key, model string, tools map[string]bool) *chat.Session {
	if key != "" {
		if id, ok := s.idempotency[key]; ok {
			return s.sessions[id]
		}
	}

	s.sessionSeq++
	now := s.nowFunc().UTC()
	if model == "" {
		model = s.cfg.Model
	}
	sess := &chat.Session{
		ID:           fmt.Sprintf("cs_dev%04d", s.sessionSeq),
		Title:        "New conversation",
		Model:        model,
		CreatedAt:    now,
		UpdatedAt:    now,
		ToolsEnabled: chat.CloneTools(tools),
	}
	s.sessions[sess.ID] = sess
	if key != "" {
		s.idempotency[key] = sess.ID
	}
	return sess
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	list := make([]chat.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess.Clone())
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Pinned != list[j].Pinned {
			return list[i].Pinned
		}
		if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		}
		return list[i].ID < list[j].ID
	})
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Title  *string         `json:"title"`
		Pinned *bool           `json:"pinned"`
		Tools  map[string]bool `json:"tools"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		if req.Title != nil {
			sess.Title = *req.Title
		}
		if req.Pinned != nil {
			sess.Pinned = *req.Pinned
		}
		if req.Tools != nil {
			sess.ToolsEnabled = chat.CloneTools(req.Tools)
		}
		sess.UpdatedAt = s.nowFunc().UTC()
	}
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	delete(s.messages, id)
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	s.log.Info("session deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// --- History ---

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	s.mu.Lock()
	_, ok := s.sessions[id]
	all := s.messages[id]
	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page := make([]chat.Message, 0, end-offset)
	for _, m := range all[offset:end] {
		page = append(page, m.Clone())
	}
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": page, "total": total})
}

// --- Completions ---

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID      string          `json:"session_id"`
		Text           string          `json:"text"`
		Model          string          `json:"model"`
		AttachmentIDs  []string        `json:"attachment_ids"`
		Tools          map[string]bool `json:"tools"`
		IdempotencyKey string          `json:"idempotency_key"`
		Stream         bool            `json:"stream"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.AttachmentIDs) == 0 {
		http.Error(w, "empty message", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	var sess *chat.Session
	if req.SessionID == "" {
		sess = s.findOrCreateLocked(req.IdempotencyKey, req.Model, req.Tools)
	} else {
		sess = s.sessions[req.SessionID]
	}
	if sess == nil {
		s.mu.Unlock()
		http.NotFound(w, r)
		return
	}

	now := s.nowFunc().UTC()
	s.messageSeq++
	user := chat.Message{
		ID:            fmt.Sprintf("msg_dev%04d", s.messageSeq),
		Role:          chat.RoleUser,
		Content:       req.Text,
		Status:        chat.StatusDelivered,
		Timestamp:     now,
		AttachmentIDs: append([]string(nil), req.AttachmentIDs...),
	}
	s.messageSeq++
	reply := chat.Message{
		ID:         fmt.Sprintf("msg_dev%04d", s.messageSeq),
		Role:       chat.RoleAssistant,
		Content:    cannedReply(req.Text, len(req.AttachmentIDs)),
		Status:     chat.StatusDelivered,
		Timestamp:  now,
		Model:      sess.Model,
		TokenCount: len(strings.Fields(req.Text)) + 8,
	}
	s.messages[sess.ID] = append(s.messages[sess.ID], user, reply)
	if sess.FirstMessageAt.IsZero() {
		sess.FirstMessageAt = now
	}
	sess.LastMessageAt = now
	sess.UpdatedAt = now
	sess.MessageCount = len(s.messages[sess.ID])
	sessionID := sess.ID
	s.mu.Unlock()

	s.log.Info("completion", "session", sessionID, "stream", req.Stream, "chars", len(req.Text))

	if !req.Stream {
		writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "message": reply})
		return
	}
	s.streamReply(w, r, sessionID, reply)
}

// streamReply writes the meta/chunk/done frame sequence for one reply.
func (s *Server) streamReply(w http.ResponseWriter, r *http.Request, sessionID string, reply chat.Message) {
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	emit := func(ev chat.StreamEvent) bool {
		payload, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		fl.Flush()
		return true
	}

	if !emit(chat.MetaEvent(sessionID, reply.ID)) {
		return
	}
	for _, piece := range splitChunks(reply.Content, s.cfg.ChunkSize) {
		if s.cfg.Latency > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(s.cfg.Latency):
			}
		}
		if !emit(chat.ChunkEvent(piece)) {
			return
		}
	}
	emit(chat.DoneEvent(reply.ID, reply.Model, reply.TokenCount))
}

func cannedReply(text string, attachments int) string {
	reply := "Thanks! The dev server received: " + strings.TrimSpace(text)
	if attachments > 0 {
		reply += fmt.Sprintf(" (with %d attachment(s))", attachments)
	}
	return reply
}

func splitChunks(text string, size int) []string {
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// --- Attachments ---

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "malformed upload", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	defer file.Close()

	s.mu.Lock()
	s.attachSeq++
	att := chat.Attachment{
		ID:         fmt.Sprintf("att_dev%04d", s.attachSeq),
		Name:       header.Filename,
		SizeBytes:  header.Size,
		UploadedAt: s.nowFunc().UTC(),
	}
	s.mu.Unlock()

	s.log.Info("attachment staged", "id", att.ID, "name", att.Name, "bytes", att.SizeBytes)
	writeJSON(w, http.StatusCreated, att)
}

// --- Titles ---

func (s *Server) handleTitle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"title": titleFor(req.Text)})
}

// titleFor derives a short title from the first words of a message.
func titleFor(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return "New conversation"
	}
	if len(words) > 5 {
		words = words[:5]
	}
	title := strings.TrimRight(strings.Join(words, " "), ".,;:!?")
	runes := []rune(title)
	if len(runes) == 0 {
		return "New conversation"
	}
	if len(runes) > 40 {
		runes = runes[:40]
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
