package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-reports/domains/connections/be/service"
	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
	"github.com/zenGate-Global/palmyra-reports/platform/go/problem"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenant"
)

const maxBody = 4 << 10

// Handler wires the connections service to HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("connections service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the connection endpoints. The switch is limited to privileged callers.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/db/status", h.Status)
	r.Get("/db/databases", h.Databases)
	r.Post("/db/test", h.Test)
	r.With(platformauth.RequireRole(platformauth.RolePrivileged)).Post("/db/switch", h.Switch)
}

type tenantTarget struct {
	ID       int64  `json:"id"`
	Slug     string `json:"slug"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
}

type poolStats struct {
	TotalConns    int32 `json:"totalConns"`
	IdleConns     int32 `json:"idleConns"`
	AcquiredConns int32 `json:"acquiredConns"`
	MaxConns      int32 `json:"maxConns"`
}

type connectionStatus struct {
	Tenant      tenantTarget `json:"tenant"`
	Connected   bool         `json:"connected"`
	LatencyMs   *int64       `json:"latencyMs,omitempty"`
	Error       string       `json:"error,omitempty"`
	Pool        *poolStats   `json:"pool,omitempty"`
	BrokerPools int          `json:"brokerPools"`
}

type databaseList struct {
	Current   string   `json:"current"`
	Databases []string `json:"databases"`
}

type testRequest struct {
	Database string `json:"database,omitempty"`
}

type testResult struct {
	Database      string `json:"database"`
	Success       bool   `json:"success"`
	LatencyMs     *int64 `json:"latencyMs,omitempty"`
	ServerVersion string `json:"serverVersion,omitempty"`
	Error         string `json:"error,omitempty"`
}

type switchRequest struct {
	Database string `json:"database"`
}

type switchResult struct {
	Previous        string `json:"previous"`
	Current         string `json:"current"`
	SupersededPools int    `json:"supersededPools"`
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	caller, info, ok := h.scope(w, r)
	if !ok {
		return
	}

	status, err := h.svc.Status(r.Context(), caller, info)
	if err != nil {
		problem.Write(w, r, err, h.logger)
		return
	}

	out := connectionStatus{
		Tenant:      toTarget(status.Tenant),
		Connected:   status.Connected,
		Error:       status.Error,
		BrokerPools: status.BrokerPools,
	}
	if status.Connected {
		ms := status.Latency.Milliseconds()
		out.LatencyMs = &ms
	}
	if status.Pool != nil {
		out.Pool = &poolStats{
			TotalConns:    status.Pool.TotalConns,
			IdleConns:     status.Pool.IdleConns,
			AcquiredConns: status.Pool.AcquiredConns,
			MaxConns:      status.Pool.MaxConns,
		}
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Databases(w http.ResponseWriter, r *http.Request) {
	caller, info, ok := h.scope(w, r)
	if !ok {
		return
	}

	list, err := h.svc.Databases(r.Context(), caller, info)
	if err != nil {
		problem.Write(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, databaseList{Current: list.Current, Databases: list.Databases})
}

func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	caller, info, ok := h.scope(w, r)
	if !ok {
		return
	}

	var body testRequest
	if err := decodeJSON(r, &body, true); err != nil {
		problem.Write(w, r, err, h.logger)
		return
	}

	result, err := h.svc.Test(r.Context(), caller, info, body.Database)
	if err != nil {
		problem.Write(w, r, err, h.logger)
		return
	}

	out := testResult{
		Database:      result.Database,
		Success:       result.Success,
		ServerVersion: result.ServerVersion,
		Error:         result.Error,
	}
	if result.Success {
		ms := result.Latency.Milliseconds()
		out.LatencyMs = &ms
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Switch(w http.ResponseWriter, r *http.Request) {
	caller, info, ok := h.scope(w, r)
	if !ok {
		return
	}

	var body switchRequest
	if err := decodeJSON(r, &body, false); err != nil {
		problem.Write(w, r, err, h.logger)
		return
	}

	result, err := h.svc.Switch(r.Context(), caller, info, body.Database)
	if err != nil {
		problem.Write(w, r, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, switchResult{
		Previous:        result.Previous,
		Current:         result.Current,
		SupersededPools: result.SupersededPools,
	})
}

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

func toTarget(info tenant.ConnectionInfo) tenantTarget {
	return tenantTarget{ID: info.TenantID, Slug: info.Slug, Host: info.Host, Port: info.Port, Database: info.Database}
}

// decodeJSON reads a small JSON body. With optional set an empty body is accepted.
func decodeJSON(r *http.Request, dst any, optional bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && optional:
		return nil
	case errors.Is(err, io.EOF):
		return apperrors.Validation("request body is required", "")
	default:
		return &apperrors.Error{Category: apperrors.CategoryValidation, Message: "invalid request body", Cause: err}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
