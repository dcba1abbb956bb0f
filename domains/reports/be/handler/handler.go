package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-reports/domains/reports/be/service"
	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
	"github.com/zenGate-Global/palmyra-reports/platform/go/jobqueue"
	"github.com/zenGate-Global/palmyra-reports/platform/go/problem"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenant"
)

// maxBodyOverhead is the JSON envelope allowance on top of the HTML cap.
const maxBodyOverhead = 64 << 10

// Handler wires the reports service to HTTP.
type Handler struct {
	svc          service.Service
	maxBodyBytes int64
	logger       *zap.Logger
}

// New constructs a Handler. maxHTMLBytes bounds export request bodies.
func New(svc service.Service, maxHTMLBytes int, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("reports service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if maxHTMLBytes <= 0 {
		maxHTMLBytes = service.DefaultMaxHTMLBytes
	}
	return &Handler{svc: svc, maxBodyBytes: int64(maxHTMLBytes) + maxBodyOverhead, logger: logger}
}

// Routes mounts the reports endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/reports/execute", h.Execute)
	r.Post("/reports/export-pdf", h.ExportPDF)
	r.Get("/reports/export-pdf/{jobId}/status", h.ExportStatus)
}

type executeRequest struct {
	Query    string `json:"query"`
	Page     *int   `json:"page,omitempty"`
	PageSize *int   `json:"pageSize,omitempty"`
}

type queryResult struct {
	Columns    []string         `json:"columns"`
	Rows       []map[string]any `json:"rows"`
	RowCount   int              `json:"rowCount"`
	TotalRows  int64            `json:"totalRows"`
	TotalPages int              `json:"totalPages"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	DurationMs int64            `json:"durationMs"`
}

type exportRequest struct {
	HTMLContent string `json:"htmlContent"`
	ReportID    string `json:"reportId,omitempty"`
}

type exportAccepted struct {
	JobID string `json:"jobId"`
}

type jobStatus struct {
	JobID     string    `json:"jobId"`
	ReportID  string    `json:"reportId,omitempty"`
	State     string    `json:"state"`
	Progress  int       `json:"progress"`
	PDFData   string    `json:"pdfData,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	caller, info, ok := h.scope(w, r)
	if !ok {
		return
	}

	var body executeRequest
	if err := decodeJSON(r, h.maxBodyBytes, &body); err != nil {
		problem.Write(w, r, err, h.logger)
		return
	}

	req := service.QueryRequest{SQL: body.Query}
	if body.Page != nil {
		if *body.Page < 1 {
			problem.Write(w, r, apperrors.Validation("page must be 1 or greater", ""), h.logger)
			return
		}
		req.Page = *body.Page
	}
	if body.PageSize != nil {
		if *body.PageSize < 1 {
			problem.Write(w, r, apperrors.Validation("pageSize must be 1 or greater", ""), h.logger)
			return
		}
		req.PageSize = *body.PageSize
	}

	result, err := h.svc.Execute(r.Context(), caller, info, req)
	if err != nil {
		problem.Write(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, queryResult{
		Columns:    result.Columns,
		Rows:       result.Rows,
		RowCount:   result.RowCount,
		TotalRows:  result.TotalRows,
		TotalPages: result.TotalPages,
		Page:       result.Page,
		PageSize:   result.PageSize,
		DurationMs: result.Duration.Milliseconds(),
	})
}

func (h *Handler) ExportPDF(w http.ResponseWriter, r *http.Request) {
	caller, info, ok := h.scope(w, r)
	if !ok {
		return
	}

	var body exportRequest
	if err := decodeJSON(r, h.maxBodyBytes, &body); err != nil {
		problem.Write(w, r, err, h.logger)
		return
	}

	id, err := h.svc.Export(r.Context(), caller, info, service.ExportInput{HTML: body.HTMLContent, ReportID: body.ReportID})
	if err != nil {
		problem.Write(w, r, err, h.logger)
		return
	}

	w.Header().Set("Location", "/reports/export-pdf/"+id+"/status")
	writeJSON(w, http.StatusAccepted, exportAccepted{JobID: id})
}

func (h *Handler) ExportStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := platformauth.IdentityFromContext(r.Context())
	if !ok {
		problem.Write(w, r, apperrors.Unauthenticated("authentication required"), h.logger)
		return
	}

	var jobID uuid.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "jobId", chi.URLParam(r, "jobId"), &jobID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		problem.Write(w, r, apperrors.Validation("jobId must be a UUID", ""), h.logger, zap.Error(err))
		return
	}

	status, err := h.svc.Status(r.Context(), *caller, jobID.String())
	if err != nil {
		problem.Write(w, r, err, h.logger)
		return
	}

	out := jobStatus{
		JobID:     status.ID,
		ReportID:  status.ReportID,
		State:     string(status.State),
		Progress:  status.Progress,
		CreatedAt: status.CreatedAt,
		UpdatedAt: status.UpdatedAt,
	}
	switch status.State {
	case jobqueue.StateCompleted:
		out.PDFData = status.PDFData
	case jobqueue.StateFailed:
		out.Error = status.Error
	}

	writeJSON(w, http.StatusOK, out)
}

// scope returns the verified caller and its resolved tenant connection.
func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (platformauth.CallerIdentity, tenant.ConnectionInfo, bool) {
	caller, ok := platformauth.IdentityFromContext(r.Context())
	if !ok {
		problem.Write(w, r, apperrors.Unauthenticated("authentication required"), h.logger)
		return platformauth.CallerIdentity{}, tenant.ConnectionInfo{}, false
	}
	info, ok := tenant.FromContext(r.Context())
	if !ok {
		problem.Write(w, r, apperrors.Unauthenticated("tenant required"), h.logger)
		return platformauth.CallerIdentity{}, tenant.ConnectionInfo{}, false
	}
	return *caller, info, true
}

func decodeJSON(r *http.Request, limit int64, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, limit+1))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.Validation("request body is required", "")
		}
		if errors.Is(err, io.ErrUnexpectedEOF) && r.ContentLength > limit {
			return apperrors.Validation("request body too large", "")
		}
		return &apperrors.Error{Category: apperrors.CategoryValidation, Message: "invalid request body", Cause: err}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
