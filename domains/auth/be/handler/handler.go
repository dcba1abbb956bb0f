package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-reports/domains/auth/be/service"
	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	"github.com/zenGate-Global/palmyra-reports/platform/go/problem"
)

const maxLoginBody = 8 << 10

// Handler wires the auth service to HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("auth service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the public auth endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/login", h.Login)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginUser struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type loginTenant struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      loginUser   `json:"user"`
	Tenant    loginTenant `json:"tenant"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxLoginBody)).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			err = apperrors.Validation("request body is required", "")
		} else {
			err = &apperrors.Error{Category: apperrors.CategoryValidation, Message: "invalid request body", Cause: err}
		}
		problem.Write(w, r, err, h.logger)
		return
	}

	session, err := h.svc.Login(r.Context(), service.LoginInput{Email: body.Email, Password: body.Password})
	if err != nil {
		problem.Write(w, r, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(loginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User: loginUser{
			ID:    session.Identity.UserID,
			Email: session.Identity.Email,
			Role:  session.Identity.Role.String(),
		},
		Tenant: loginTenant{ID: session.Identity.TenantID, Slug: session.Identity.TenantSlug},
	})
}
