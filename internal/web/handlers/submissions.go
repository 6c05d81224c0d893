package handlers

import (
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veerhq/veer/internal/form"
)

// SubmissionHandler accepts public form submissions. Each one is stored before
// the owner is emailed through their active email integration.
type SubmissionHandler struct {
	forms *form.Service
}

func NewSubmissionHandler(forms *form.Service) *SubmissionHandler {
	return &SubmissionHandler{forms: forms}
}

type submitResponse struct {
	OK           bool   `json:"ok"`
	SubmissionID string `json:"submissionId,omitempty"`
	Notified     bool   `json:"notified"`
}

// HandleSubmit accepts a post to the form named by {formID}.
//
// Form fields:
//
//	_gotcha  (honeypot -- if filled in, silently accept)
//	any other field not starting with "_" is stored as an answer
func (h *SubmissionHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	formID, err := uuid.Parse(chi.URLParam(r, "formID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Form not found")
		return
	}

	fields, err := readFields(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form data")
		return
	}

	if fields["_gotcha"] != "" {
		writeJSON(w, http.StatusOK, submitResponse{OK: true})
		return
	}

	res, err := h.forms.Submit(r.Context(), formID, fields, form.Meta{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	})
	if err != nil {
		var missing *form.MissingFieldsError
		switch {
		case errors.Is(err, form.ErrNotFound):
			writeError(w, http.StatusNotFound, "Form not found")
		case errors.Is(err, form.ErrInactive):
			writeError(w, http.StatusForbidden, "This form is not active")
		case errors.As(err, &missing):
			writeError(w, http.StatusBadRequest, missing.Error())
		case errors.Is(err, form.ErrEmpty):
			writeError(w, http.StatusBadRequest, "Submission is empty")
		default:
			slog.ErrorContext(r.Context(), "failed to submit form", "form_id", formID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to submit form")
		}
		return
	}

	writeJSON(w, http.StatusCreated, submitResponse{
		OK:           true,
		SubmissionID: res.Submission.PublicID.String(),
		Notified:     res.Notified,
	})
}

// clientIP strips the port chi's RealIP middleware leaves on RemoteAddr when
// no proxy header was present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
