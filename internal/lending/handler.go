// internal/lending/handler.go
package lending

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"libraledger/internal/catalog"
	"libraledger/internal/journal"
	"libraledger/internal/web"
)

const (
	minScore = 0
	maxScore = 10

	msgBorrowed        = "Successfully Borrowed"
	msgOutOfStock      = "Book is out of stock"
	msgReturned        = "Successfully Returned"
	msgNothingToReturn = "Book cannot be returned"
)

// History reads the journal of a book.
type History interface {
	LoadForBook(ctx context.Context, bookID int64) ([]journal.Event, error)
}

// OutcomeResponse is the body of borrow and return responses.
type OutcomeResponse struct {
	Outcome Outcome `json:"outcome"`
	Message string  `json:"response"`
	LoanID  int64   `json:"loan_id,omitempty"`
}

type Handler struct {
	service Service
	history History
}

// NewHandler creates the lending HTTP handler. history may be nil, which disables the events route.
func NewHandler(service Service, history History) *Handler {
	return &Handler{service: service, history: history}
}

// Routes registers the lending endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/books", h.HandleCreateBook)
	r.Get("/books/{id}", h.HandleRateAverage)
	if h.history != nil {
		r.Get("/books/{id}/events", h.HandleBookEvents)
	}
	r.Post("/users/{id}/borrow/{bookId}", h.HandleBorrow)
	r.Post("/users/{id}/return/{bookId}", h.HandleReturn)
}

func (h *Handler) HandleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	book, err := h.service.CreateBook(r.Context(), req.Name)
	if errors.Is(err, catalog.ErrEmptyName) {
		web.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	web.WriteJSON(w, http.StatusCreated, book)
}

func (h *Handler) HandleRateAverage(w http.ResponseWriter, r *http.Request) {
	bookID, ok := web.IDParam(r, "id")
	if !ok {
		web.WriteError(w, http.StatusBadRequest, "invalid book ID")
		return
	}

	result, err := h.service.RateAverage(r.Context(), bookID)
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result.Outcome == OutcomeUnknownBook {
		web.WriteError(w, http.StatusNotFound, "book not found")
		return
	}

	web.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleBookEvents(w http.ResponseWriter, r *http.Request) {
	bookID, ok := web.IDParam(r, "id")
	if !ok {
		web.WriteError(w, http.StatusBadRequest, "invalid book ID")
		return
	}

	events, err := h.history.LoadForBook(r.Context(), bookID)
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	web.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	userID, bookID, ok := loanParams(w, r)
	if !ok {
		return
	}

	result, err := h.service.Borrow(r.Context(), userID, bookID)
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch result.Outcome {
	case OutcomeBorrowed:
		web.WriteJSON(w, http.StatusCreated, OutcomeResponse{Outcome: result.Outcome, Message: msgBorrowed, LoanID: result.LoanID})
	default:
		web.WriteJSON(w, http.StatusNotAcceptable, OutcomeResponse{Outcome: result.Outcome, Message: msgOutOfStock})
	}
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	userID, bookID, ok := loanParams(w, r)
	if !ok {
		return
	}

	var req struct {
		Score *int `json:"score"`
	}
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Score == nil || *req.Score < minScore || *req.Score > maxScore {
		web.WriteError(w, http.StatusBadRequest, "score must be an integer between 0 and 10")
		return
	}

	result, err := h.service.Return(r.Context(), userID, bookID, *req.Score)
	if err != nil {
		web.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch result.Outcome {
	case OutcomeReturned:
		web.WriteJSON(w, http.StatusCreated, OutcomeResponse{Outcome: result.Outcome, Message: msgReturned})
	default:
		web.WriteJSON(w, http.StatusNotAcceptable, OutcomeResponse{Outcome: result.Outcome, Message: msgNothingToReturn})
	}
}

func loanParams(w http.ResponseWriter, r *http.Request) (userID, bookID int64, ok bool) {
	userID, ok = web.IDParam(r, "id")
	if !ok {
		web.WriteError(w, http.StatusBadRequest, "invalid user ID")
		return 0, 0, false
	}
	bookID, ok = web.IDParam(r, "bookId")
	if !ok {
		web.WriteError(w, http.StatusBadRequest, "invalid book ID")
		return 0, 0, false
	}
	return userID, bookID, true
}
