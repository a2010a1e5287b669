package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BTreeMap/AltTutor/internal/models"
	"github.com/BTreeMap/AltTutor/internal/store"
	"github.com/go-chi/chi/v5"
)

// LessonInfo summarises a lesson in the catalog listing.
type LessonInfo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Questions int    `json:"questions"`
}

// ModuleInfo summarises a module in the catalog listing.
type ModuleInfo struct {
	ID      string       `json:"id"`
	Title   string       `json:"title"`
	Lessons []LessonInfo `json:"lessons"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}

func (s *Server) modulesHandler(w http.ResponseWriter, r *http.Request) {
	modules := s.catalog.Modules()
	out := make([]ModuleInfo, 0, len(modules))
	for _, m := range modules {
		info := ModuleInfo{ID: m.ID, Title: m.Title, Lessons: make([]LessonInfo, 0, len(m.Lessons))}
		for _, l := range m.Lessons {
			info.Lessons = append(info.Lessons, LessonInfo{ID: l.ID, Title: l.Title, Questions: len(l.Questions)})
		}
		out = append(out, info)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

func (s *Server) userHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		s.writeStoreError(w, "userHandler", userID, err)
		return
	}
	badges, err := s.profiles.ListBadges(ctx, userID)
	if err != nil {
		s.writeStoreError(w, "userHandler", userID, err)
		return
	}
	completed, err := s.profiles.ListCompletedLessons(ctx, userID)
	if err != nil {
		s.writeStoreError(w, "userHandler", userID, err)
		return
	}
	if badges == nil {
		badges = []string{}
	}
	if completed == nil {
		completed = []models.LessonProgress{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.UserSummary{
		Profile:          *profile,
		Badges:           badges,
		CompletedLessons: completed,
	}))
}

func (s *Server) dialoguesHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := store.DefaultDialogueLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			slog.Warn("Server dialoguesHandler invalid limit", "limit", raw)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		limit = n
	}
	entries, err := s.dialogues.ListDialogues(r.Context(), userID, limit)
	if err != nil {
		s.writeStoreError(w, "dialoguesHandler", userID, err)
		return
	}
	if entries == nil {
		entries = []models.DialogueEntry{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(entries))
}

func (s *Server) resetPointsHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.profiles.ResetPoints(r.Context(), userID); err != nil {
		s.writeStoreError(w, "resetPointsHandler", userID, err)
		return
	}
	slog.Info("Server points reset", "userID", userID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("points reset", nil))
}

// writeStoreError maps store errors to HTTP status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, handler, userID string, err error) {
	if errors.Is(err, store.ErrProfileNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("user not found"))
		return
	}
	slog.Error("Server "+handler+" store error", "error", err, "userID", userID)
	writeJSONResponse(w, http.StatusInternalServerError, models.Error("internal error"))
}
