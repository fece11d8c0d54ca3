// internal/catalog/handler.go
package catalog

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"libraledger/internal/ledger"
	"libraledger/internal/web"
)

// LoanHistory lists the loans of a reader.
type LoanHistory interface {
	LoansByUser(ctx context.Context, userID int64) ([]ledger.LoanDetail, error)
}

type Handler struct {
	service Service
	loans   LoanHistory
}

func NewHandler(service Service, loans LoanHistory) *Handler {
	return &Handler{service: service, loans: loans}
}

// Routes registers the catalog endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/books", h.HandleListBooks)
	r.Get("/users", h.HandleListUsers)
	r.Post("/users", h.HandleCreateUser)
	r.Get("/users/{id}", h.HandleGetUser)
}

func (h *Handler) HandleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context())
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	web.WriteJSON(w, http.StatusOK, books)
}

func (h *Handler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	web.WriteJSON(w, http.StatusOK, users)
}

func (h *Handler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.service.CreateUser(r.Context(), req.Name)
	if errors.Is(err, ErrEmptyName) {
		web.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	web.WriteJSON(w, http.StatusCreated, user)
}

func (h *Handler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := web.IDParam(r, "id")
	if !ok {
		web.WriteError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if errors.Is(err, ErrUserNotFound) {
		web.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	loans, err := h.loans.LoansByUser(r.Context(), id)
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	web.WriteJSON(w, http.StatusOK, NewProfile(user, loans))
}
