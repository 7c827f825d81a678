// Package handlers provides HTTP request handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/payrail/payrail/pkg/api/middleware"
	"github.com/payrail/payrail/pkg/api/response"
	"github.com/payrail/payrail/pkg/logger"
	"github.com/payrail/payrail/pkg/transaction"
)

// CreateTransactionRequest is the POST /api/v1/transactions body.
type CreateTransactionRequest struct {
	SenderUserID   string  `json:"sender_user_id" validate:"required,uuid4"`
	ReceiverUserID string  `json:"receiver_user_id" validate:"required,uuid4"`
	Amount         float64 `json:"amount" validate:"required,gt=0,lte=1000000"`
	Description    string  `json:"description" validate:"max=255"`
}

// TransactionHandler handles transaction endpoints.
type TransactionHandler struct {
	service  *transaction.Service
	logger   logger.Logger
	validate *validator.Validate
}

// NewTransactionHandler creates a transaction handler.
func NewTransactionHandler(service *transaction.Service, log logger.Logger) *TransactionHandler {
	return &TransactionHandler{
		service:  service,
		logger:   log,
		validate: validator.New(),
	}
}

// Create handles POST /api/v1/transactions.
func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode transfer request", "error", err, "request_id", requestID)
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", requestID)
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		h.logger.Warn("transfer request validation failed", "error", err, "request_id", requestID)
		response.ErrorWithDetails(w, http.StatusBadRequest, response.ErrCodeValidationFailed,
			"request validation failed", validationDetails(err), requestID)
		return
	}

	input := transaction.CreateInput{
		SenderUserID:   req.SenderUserID,
		ReceiverUserID: req.ReceiverUserID,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}

	tx, err := h.service.CreateTransfer(r.Context(), input)
	if err != nil {
		h.logger.Error("transfer failed",
			"sender_user_id", req.SenderUserID,
			"receiver_user_id", req.ReceiverUserID,
			"error", err,
			"request_id", requestID)
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusCreated, tx)
}

// Get handles GET /api/v1/transactions/{id}.
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")

	tx, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		if !errors.Is(err, transaction.ErrNotFound) {
			h.logger.Error("failed to load transaction", "id", id, "error", err, "request_id", requestID)
		}
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, tx)
}

// ListByUser handles GET /api/v1/users/{userId}/transactions.
func (h *TransactionHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	userID := chi.URLParam(r, "userId")

	filter, err := listFilterFromQuery(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, err.Error(), requestID)
		return
	}

	page, err := h.service.ListUserTransactions(r.Context(), userID, filter)
	if err != nil {
		if !errors.Is(err, transaction.ErrUserNotFound) {
			h.logger.Error("failed to list transactions", "user_id", userID, "error", err, "request_id", requestID)
		}
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, page)
}

func listFilterFromQuery(r *http.Request) (transaction.ListFilter, error) {
	var filter transaction.ListFilter
	q := r.URL.Query()

	if v := q.Get("status"); v != "" {
		filter.Status = transaction.Status(v)
	}
	if v := q.Get("type"); v != "" {
		filter.Type = transaction.Type(v)
	}
	if v := q.Get("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("start_date must be RFC3339")
		}
		filter.StartDate = t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("end_date must be RFC3339")
		}
		filter.EndDate = t
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return filter, errors.New("page must be a positive integer")
		}
		filter.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return filter, errors.New("limit must be between 1 and 100")
		}
		filter.Limit = n
	}

	return filter, nil
}

func validationDetails(err error) map[string]interface{} {
	details := make(map[string]interface{})
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) {
		for _, fe := range fieldErrors {
			details[fe.Field()] = fe.Tag()
		}
	}
	return details
}
