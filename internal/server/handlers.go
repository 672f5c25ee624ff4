package server

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/fusen/internal/docid"
	"github.com/hyperjump/fusen/internal/models"
	"github.com/hyperjump/fusen/internal/pagetext"
	"github.com/hyperjump/fusen/internal/reanchor"
	"github.com/hyperjump/fusen/internal/session"
	"github.com/hyperjump/fusen/internal/storage"
)

// sessionFor returns the open session for docID, creating one without page
// text when the document was never opened through the API. Such sessions can
// list and mutate rows but store highlights without computed anchors.
func (s *Server) sessionFor(r *http.Request, docID string) *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[docID]; ok {
		return sess
	}
	sess := session.New(r.Context(), docID, s.store, nil, nil, s.sessionOptions(""), s.logger)
	s.sessions[docID] = sess
	return sess
}

func (s *Server) sessionOptions(legacyDocID string) session.Options {
	return session.Options{
		UndoDepth:    s.config.Session.UndoDepth,
		ContextChars: s.config.Anchor.ContextChars,
		LegacyDocID:  legacyDocID,
		Reanchor: reanchor.Options{
			RadiusPages:     s.config.Reanchor.RadiusPages,
			MinContextScore: s.config.Reanchor.MinContextScore,
		},
	}
}

type openDocumentRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleOpenDocument(w http.ResponseWriter, r *http.Request) {
	var req openDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	provider, err := pagetext.NewPDFProvider(data)
	if err != nil {
		s.logger.Error("open document failed", zap.String("path", abs), zap.Error(err))
		s.respondError(w, http.StatusBadRequest, "not a readable PDF")
		return
	}

	id := docid.FromContent(data)
	legacy := docid.LegacyFromPath(abs)
	s.logger.Debug("open document request", zap.String("path", abs), zap.String("doc_id", id))

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = session.New(r.Context(), id, s.store, provider, nil, s.sessionOptions(legacy), s.logger)
		s.sessions[id] = sess
	}
	s.mu.Unlock()

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"docId":     sess.DocID(),
		"pageCount": provider.PageCount(),
	})
}

type pointJSON struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

func pointsFromWire(in []pointJSON) []*models.Point {
	out := make([]*models.Point, len(in))
	for i, p := range in {
		out[i] = &models.Point{X: p.X, Y: p.Y}
	}
	return out
}

func pointsToWire(in []*models.Point) []pointJSON {
	out := make([]pointJSON, 0, len(in))
	for _, p := range in {
		if p == nil {
			continue
		}
		out = append(out, pointJSON{X: p.X, Y: p.Y})
	}
	return out
}

type inkWire struct {
	*models.InkStroke
	Points []pointJSON `json:"points"`
}

type highlightWire struct {
	*models.Highlight
	QuadPoints []pointJSON `json:"quadPoints"`
}

func (s *Server) handleListPage(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 0 {
		s.respondError(w, http.StatusBadRequest, "invalid page index")
		return
	}
	layout := r.URL.Query().Get("layout")
	sess := s.sessionFor(r, docID)

	ink := sess.InkForPage(r.Context(), page, layout)
	inkOut := make([]inkWire, 0, len(ink))
	for _, st := range ink {
		inkOut = append(inkOut, inkWire{InkStroke: st, Points: pointsToWire(st.Points)})
	}
	highlights := sess.HighlightsForPage(r.Context(), page, layout)
	hlOut := make([]highlightWire, 0, len(highlights))
	for _, h := range highlights {
		hlOut = append(hlOut, highlightWire{Highlight: h, QuadPoints: pointsToWire(h.QuadPoints)})
	}
	notes := sess.NotesForPage(r.Context(), page, layout)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ink":        inkOut,
		"highlights": hlOut,
		"notes":      notes,
	})
}

type addInkRequest struct {
	PageIndex       int         `json:"pageIndex"`
	LayoutProfileID string      `json:"layoutProfileId,omitempty"`
	Color           uint32      `json:"color"`
	Thickness       float32     `json:"thickness"`
	Points          []pointJSON `json:"points"`
}

func (s *Server) handleAddInk(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	var req addInkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	stroke := &models.InkStroke{
		Meta: models.Meta{
			PageIndex:       req.PageIndex,
			LayoutProfileID: req.LayoutProfileID,
		},
		Color:     req.Color,
		Thickness: req.Thickness,
		Points:    pointsFromWire(req.Points),
	}
	if err := s.sessionFor(r, docID).AddInk(r.Context(), stroke); err != nil {
		s.logger.Error("add ink failed", zap.String("doc_id", docID), zap.Error(err))
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": stroke.ID})
}

type addHighlightRequest struct {
	PageIndex       int         `json:"pageIndex"`
	LayoutProfileID string      `json:"layoutProfileId,omitempty"`
	Type            string      `json:"type"`
	Color           uint32      `json:"color"`
	Opacity         float32     `json:"opacity"`
	Quote           string      `json:"quote,omitempty"`
	DocProgress01   *float32    `json:"docProgress01,omitempty"`
	ReflowLocation  string      `json:"reflowLocation,omitempty"`
	QuadPoints      []pointJSON `json:"quadPoints"`
}

func (s *Server) handleAddHighlight(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	var req addHighlightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h := &models.Highlight{
		Meta: models.Meta{
			PageIndex:       req.PageIndex,
			LayoutProfileID: req.LayoutProfileID,
		},
		Type:           models.ParseHighlightType(req.Type),
		Color:          req.Color,
		Opacity:        req.Opacity,
		Quote:          req.Quote,
		ReflowLocation: req.ReflowLocation,
		DocProgress01:  -1,
		QuadPoints:     pointsFromWire(req.QuadPoints),
	}
	if req.DocProgress01 != nil {
		h.DocProgress01 = *req.DocProgress01
	}
	if err := s.sessionFor(r, docID).AddHighlight(r.Context(), h); err != nil {
		s.logger.Error("add highlight failed", zap.String("doc_id", docID), zap.Error(err))
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": h.ID})
}

type addNoteRequest struct {
	PageIndex       int         `json:"pageIndex"`
	LayoutProfileID string      `json:"layoutProfileId,omitempty"`
	Bounds          models.Rect `json:"bounds"`
	Text            string      `json:"text,omitempty"`
	Color           uint32      `json:"color"`
	FontSize        float32     `json:"fontSize"`
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	var req addNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	n := &models.Note{
		Meta: models.Meta{
			PageIndex:       req.PageIndex,
			LayoutProfileID: req.LayoutProfileID,
		},
		Bounds:   req.Bounds,
		Text:     req.Text,
		Color:    req.Color,
		FontSize: req.FontSize,
	}
	if err := s.sessionFor(r, docID).AddNote(r.Context(), n); err != nil {
		s.logger.Error("add note failed", zap.String("doc_id", docID), zap.Error(err))
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": n.ID})
}

type updateNoteRequest struct {
	Text   *string      `json:"text,omitempty"`
	Bounds *models.Rect `json:"bounds,omitempty"`
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	id := chi.URLParam(r, "id")
	var req updateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess := s.sessionFor(r, docID)
	if req.Text != nil {
		if err := sess.UpdateNoteText(r.Context(), id, *req.Text); err != nil {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
	}
	if req.Bounds != nil {
		if err := sess.UpdateNoteBounds(r.Context(), id, *req.Bounds); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "updated"})
}

func (s *Server) handleDeleteInk(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, r, func(sess *session.Session, id string) error {
		return sess.RemoveInk(r.Context(), id)
	})
}

func (s *Server) handleDeleteHighlight(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, r, func(sess *session.Session, id string) error {
		return sess.RemoveHighlight(r.Context(), id)
	})
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, r, func(sess *session.Session, id string) error {
		return sess.RemoveNote(r.Context(), id)
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, remove func(*session.Session, string) error) {
	docID := chi.URLParam(r, "docID")
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete annotation request", zap.String("doc_id", docID), zap.String("id", id))
	if err := remove(s.sessionFor(r, docID), id); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	undone, err := s.sessionFor(r, docID).UndoLast(r.Context())
	if err != nil {
		s.logger.Error("undo failed", zap.String("doc_id", docID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"undone": undone})
}

func (s *Server) handleProbes(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	layout := r.URL.Query().Get("layout")
	sess := s.sessionFor(r, docID)
	ctx := r.Context()

	hasAny, err := sess.HasAnnotations(ctx)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	inLayout, err := sess.HasAnnotationsInLayout(ctx, layout)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	outside, err := sess.HasAnnotationsOutsideLayout(ctx, layout)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{
		"hasAnnotations":          hasAny,
		"hasAnnotationsInLayout":  inLayout,
		"hasAnnotationsElsewhere": outside,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	counts, err := s.store.CountByKind(r.Context(), docID)
	if err != nil {
		s.logger.Error("status: count failed", zap.String("doc_id", docID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"docId":      docID,
		"ink":        counts[models.KindInk],
		"highlights": counts[models.KindHighlight],
		"notes":      counts[models.KindNote],
	}
	if diskBytes, err := storage.DatabaseDiskUsage(s.config.Storage.DatabasePath); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExportBundle(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	data, err := s.sessionFor(r, docID).ExportBundle(r.Context())
	if err != nil {
		s.logger.Error("export failed", zap.String("doc_id", docID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImportBundle(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	stats, err := s.sessionFor(r, docID).ImportBundle(r.Context(), data)
	if err != nil {
		s.logger.Error("import failed", zap.String("doc_id", docID), zap.Error(err))
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"imported": stats.Total(),
		"ink":      stats.Ink, "highlights": stats.Highlights, "notes": stats.Notes,
		"skipped": stats.Skipped.Ink + stats.Skipped.Highlights + stats.Skipped.Notes,
	})
}

type reanchorRequest struct {
	LayoutProfileID string `json:"layoutProfileId"`
}

func (s *Server) handleReanchor(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	var req reanchorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LayoutProfileID == "" {
		s.respondError(w, http.StatusBadRequest, "layoutProfileId is required")
		return
	}
	moved, err := s.sessionFor(r, docID).Reanchor(r.Context(), req.LayoutProfileID)
	if err != nil {
		s.logger.Error("reanchor failed", zap.String("doc_id", docID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"moved": moved})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
