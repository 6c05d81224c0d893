package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veerhq/veer/internal/form"
	"github.com/veerhq/veer/internal/models"
	"github.com/veerhq/veer/internal/web/middleware"
)

// FormHandler lets a signed-in user manage their forms and read submissions.
type FormHandler struct {
	forms *form.Service
}

func NewFormHandler(forms *form.Service) *FormHandler {
	return &FormHandler{forms: forms}
}

type formView struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Fields    []models.FormField `json:"fields"`
	IsActive  bool               `json:"isActive"`
	CreatedAt time.Time          `json:"createdAt"`
}

type submissionView struct {
	ID        string            `json:"id"`
	Data      map[string]string `json:"data"`
	IPAddress string            `json:"ipAddress"`
	UserAgent string            `json:"userAgent"`
	Referrer  string            `json:"referrer,omitempty"`
	Source    string            `json:"source"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}

func viewForm(f *models.Form) formView {
	fields := f.Fields
	if fields == nil {
		fields = []models.FormField{}
	}
	return formView{
		ID:        f.PublicID.String(),
		Name:      f.Name,
		Fields:    fields,
		IsActive:  f.IsActive,
		CreatedAt: f.CreatedAt,
	}
}

// HandleCreate accepts {"name": ..., "fields": [{"name","label","required"}]}.
func (h *FormHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string             `json:"name"`
		Fields []models.FormField `json:"fields"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user := middleware.UserFromContext(r.Context())
	f, err := h.forms.CreateForm(r.Context(), user.ID, req.Name, req.Fields)
	if err != nil {
		var ferr *form.FieldError
		switch {
		case errors.Is(err, form.ErrNameRequired):
			writeError(w, http.StatusBadRequest, "Form name is required")
		case errors.As(err, &ferr):
			writeError(w, http.StatusBadRequest, ferr.Message)
		default:
			slog.ErrorContext(r.Context(), "failed to create form", "user_id", user.ID, "error", err)
			writeError(w, http.StatusInternalServerError, genericFailure)
		}
		return
	}
	writeJSON(w, http.StatusCreated, viewForm(f))
}

func (h *FormHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	forms, err := h.forms.ListForms(r.Context(), user.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list forms", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, genericFailure)
		return
	}
	out := make([]formView, 0, len(forms))
	for i := range forms {
		out = append(out, viewForm(&forms[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"forms": out})
}

// HandleToggle turns a form on or off with the "enabled" field.
func (h *FormHandler) HandleToggle(w http.ResponseWriter, r *http.Request) {
	formID, ok := formIDParam(w, r)
	if !ok {
		return
	}
	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	enabled, err := strconv.ParseBool(fields["enabled"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "enabled must be true or false")
		return
	}

	user := middleware.UserFromContext(r.Context())
	if err := h.forms.SetActive(r.Context(), user.ID, formID, enabled); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

// HandleSubmissions lists the newest submissions; ?limit= caps the count.
func (h *FormHandler) HandleSubmissions(w http.ResponseWriter, r *http.Request) {
	formID, ok := formIDParam(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	user := middleware.UserFromContext(r.Context())
	subs, err := h.forms.Submissions(r.Context(), user.ID, formID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]submissionView, 0, len(subs))
	for _, s := range subs {
		out = append(out, submissionView{
			ID:        s.PublicID.String(),
			Data:      s.Data,
			IPAddress: s.IPAddress,
			UserAgent: s.UserAgent,
			Referrer:  s.Referrer,
			Source:    string(s.Source),
			Status:    string(s.Status),
			CreatedAt: s.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": out})
}

func (h *FormHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, form.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Form not found")
		return
	}
	slog.ErrorContext(r.Context(), "form request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, genericFailure)
}

func formIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "formID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Form not found")
		return uuid.Nil, false
	}
	return id, true
}
