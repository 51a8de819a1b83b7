package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/piggybank/internal/domain"
	"github.com/josh-kwaku/piggybank/internal/logging"
	"github.com/josh-kwaku/piggybank/internal/money"
	"github.com/josh-kwaku/piggybank/internal/service/ledger"
)

type ledgerService interface {
	Record(ctx context.Context, req ledger.RecordRequest) (*domain.LedgerEntry, error)
	GetByID(ctx context.Context, entryID uuid.UUID) (*domain.LedgerEntry, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error)
	ListByFamily(ctx context.Context, familyID uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error)
	ListByAccounts(ctx context.Context, accountIDs []uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error)
	CurrentBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, bool, error)
}

const (
	retryInitialInterval = 100 * time.Millisecond
	retryMaxElapsed      = 10 * time.Second
)

type TransactionHandler struct {
	ledger     ledgerService
	children   childDirectory
	maxRetries uint64
}

func NewTransactionHandler(svc ledgerService, children childDirectory, maxRetries uint64) *TransactionHandler {
	return &TransactionHandler{ledger: svc, children: children, maxRetries: maxRetries}
}

type createTransactionRequest struct {
	ChildID     string  `json:"child_id"`
	Type        string  `json:"type"`
	Amount      string  `json:"amount"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
}

func (r createTransactionRequest) Validate() []FieldError {
	var errs []FieldError

	if r.ChildID == "" {
		errs = append(errs, FieldError{Field: "child_id", Message: "required"})
	} else if _, err := uuid.Parse(r.ChildID); err != nil {
		errs = append(errs, FieldError{Field: "child_id", Message: "must be a UUID"})
	}

	if r.Type == "" {
		errs = append(errs, FieldError{Field: "type", Message: "required"})
	} else if !domain.Direction(r.Type).IsValid() {
		errs = append(errs, FieldError{Field: "type", Message: "must be credit or debit"})
	}

	if strings.TrimSpace(r.Amount) == "" {
		errs = append(errs, FieldError{Field: "amount", Message: "required"})
	} else if _, err := money.Parse(r.Amount); err != nil {
		errs = append(errs, FieldError{Field: "amount", Message: "must be a positive value with at most 2 decimal places"})
	}

	return errs
}

type transactionDTO struct {
	ID            uuid.UUID  `json:"id"`
	ChildID       uuid.UUID  `json:"child_id"`
	ParentAdminID *uuid.UUID `json:"parent_admin_id"`
	Type          string     `json:"type"`
	Amount        string     `json:"amount"`
	BalanceBefore string     `json:"balance_before"`
	BalanceAfter  string     `json:"balance_after"`
	Description   *string    `json:"description"`
	Category      *string    `json:"category"`
	Sequence      int64      `json:"sequence"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toTransactionDTO(e *domain.LedgerEntry) transactionDTO {
	return transactionDTO{
		ID:            e.ID,
		ChildID:       e.AccountID,
		ParentAdminID: e.InitiatorID,
		Type:          string(e.Direction),
		Amount:        money.Format(e.Amount),
		BalanceBefore: money.Format(e.BalanceBefore),
		BalanceAfter:  money.Format(e.BalanceAfter),
		Description:   e.Description,
		Category:      e.Category,
		Sequence:      e.Sequence,
		CreatedAt:     e.CreatedAt,
	}
}

func toTransactionDTOs(entries []domain.LedgerEntry) []transactionDTO {
	dtos := make([]transactionDTO, len(entries))
	for i := range entries {
		dtos[i] = toTransactionDTO(&entries[i])
	}
	return dtos
}

type balanceDTO struct {
	ChildID uuid.UUID `json:"child_id"`
	Balance string    `json:"balance"`
}

func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	claims, appErr := claimsFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	childID := uuid.MustParse(req.ChildID)
	amount, _ := money.Parse(req.Amount)

	if _, err := familyChild(r.Context(), h.children, claims, childID); err != nil {
		log.Warn("transaction rejected", "child_id", childID, "error", err)
		RespondDomainError(w, r, err)
		return
	}

	entry, err := h.record(r.Context(), ledger.RecordRequest{
		AccountID:   childID,
		InitiatorID: &claims.UserID,
		Direction:   domain.Direction(req.Type),
		Amount:      amount,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/transactions/%s", entry.ID))
	RespondSuccess(w, http.StatusCreated, toTransactionDTO(entry))
}

// record retries while the account is busy. A lock timeout means nothing
// was written, so a retry cannot apply the entry twice.
func (h *TransactionHandler) record(ctx context.Context, req ledger.RecordRequest) (*domain.LedgerEntry, error) {
	attempt := 0
	op := func() (*domain.LedgerEntry, error) {
		attempt++
		entry, err := h.ledger.Record(ctx, req)
		if err == nil {
			return entry, nil
		}
		if errors.Is(err, domain.ErrLockTimeout) {
			logging.FromContext(ctx).Warn("account busy, retrying", "child_id", req.AccountID, "attempt", attempt)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = retryInitialInterval
	eb.MaxElapsedTime = retryMaxElapsed

	b := backoff.WithContext(backoff.WithMaxRetries(eb, h.maxRetries), ctx)
	return backoff.RetryWithData(op, b)
}

func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, appErr := claimsFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	entryID, appErr := idFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	entry, err := h.ledger.GetByID(r.Context(), entryID)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	// Entries of other families are reported as missing.
	if err := canViewChild(r.Context(), h.children, claims, entry.AccountID); err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			RespondAppError(w, ErrResourceNotFound, nil)
			return
		}
		RespondDomainError(w, r, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toTransactionDTO(entry))
}

func (h *TransactionHandler) ListForChild(w http.ResponseWriter, r *http.Request) {
	claims, appErr := claimsFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	childID, appErr := idFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	page, fields := parsePage(r)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	if err := canViewChild(r.Context(), h.children, claims, childID); err != nil {
		RespondDomainError(w, r, err)
		return
	}

	entries, err := h.ledger.ListByAccount(r.Context(), childID, page)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toTransactionDTOs(entries))
}

// ListMine is the child's own history.
func (h *TransactionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	claims, appErr := claimsFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	page, fields := parsePage(r)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	entries, err := h.ledger.ListByAccount(r.Context(), claims.UserID, page)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toTransactionDTOs(entries))
}

// ListForFamily returns the whole family's history, or only the children
// named by repeated child_id query parameters.
func (h *TransactionHandler) ListForFamily(w http.ResponseWriter, r *http.Request) {
	claims, appErr := claimsFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	page, fields := parsePage(r)
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	filter := r.URL.Query()["child_id"]
	if len(filter) == 0 {
		entries, err := h.ledger.ListByFamily(r.Context(), claims.FamilyID, page)
		if err != nil {
			RespondDomainError(w, r, err)
			return
		}
		RespondSuccess(w, http.StatusOK, toTransactionDTOs(entries))
		return
	}

	children, err := h.children.GetByFamilyID(r.Context(), claims.FamilyID)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	inFamily := make(map[uuid.UUID]bool, len(children))
	for _, c := range children {
		inFamily[c.ID] = true
	}

	ids := make([]uuid.UUID, 0, len(filter))
	for _, raw := range filter {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondValidationError(w, []FieldError{{Field: "child_id", Message: "must be a UUID"}})
			return
		}
		if !inFamily[id] {
			RespondAppError(w, ErrForbidden, nil)
			return
		}
		ids = append(ids, id)
	}

	entries, err := h.ledger.ListByAccounts(r.Context(), ids, page)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toTransactionDTOs(entries))
}

func (h *TransactionHandler) Balance(w http.ResponseWriter, r *http.Request) {
	claims, appErr := claimsFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	childID, appErr := idFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	if err := canViewChild(r.Context(), h.children, claims, childID); err != nil {
		RespondDomainError(w, r, err)
		return
	}

	balance, found, err := h.ledger.CurrentBalance(r.Context(), childID)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	if !found {
		RespondAppError(w, ErrAccountNotFound, nil)
		return
	}

	RespondSuccess(w, http.StatusOK, balanceDTO{ChildID: childID, Balance: money.Format(balance)})
}

// parsePage reads limit and offset. Missing values are left zero for the
// ledger service to default; out-of-range values are clamped there too.
func parsePage(r *http.Request) (domain.Page, []FieldError) {
	var (
		page domain.Page
		errs []FieldError
	)
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, FieldError{Field: "limit", Message: "must be a non-negative integer"})
		}
		page.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, FieldError{Field: "offset", Message: "must be a non-negative integer"})
		}
		page.Offset = n
	}
	return page, errs
}
