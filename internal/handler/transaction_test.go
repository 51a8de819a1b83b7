package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/piggybank/internal/auth"
	"github.com/josh-kwaku/piggybank/internal/domain"
	"github.com/josh-kwaku/piggybank/internal/service/ledger"
)

type fakeLedger struct {
	recordErrs []error
	records    []ledger.RecordRequest
	entries    map[uuid.UUID]*domain.LedgerEntry
	balances   map[uuid.UUID]decimal.Decimal
	lastPage   domain.Page
	lastIDs    []uuid.UUID
	listedBy   string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		entries:  make(map[uuid.UUID]*domain.LedgerEntry),
		balances: make(map[uuid.UUID]decimal.Decimal),
	}
}

func (f *fakeLedger) Record(_ context.Context, req ledger.RecordRequest) (*domain.LedgerEntry, error) {
	f.records = append(f.records, req)
	if len(f.recordErrs) > 0 {
		err := f.recordErrs[0]
		f.recordErrs = f.recordErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	before := f.balances[req.AccountID]
	e := &domain.LedgerEntry{
		ID:            uuid.New(),
		AccountID:     req.AccountID,
		InitiatorID:   req.InitiatorID,
		Direction:     req.Direction,
		Amount:        req.Amount,
		BalanceBefore: before,
		BalanceAfter:  req.Direction.Apply(before, req.Amount),
		Description:   req.Description,
		Sequence:      1,
		CreatedAt:     time.Now().UTC(),
	}
	f.entries[e.ID] = e
	f.balances[req.AccountID] = e.BalanceAfter
	return e, nil
}

func (f *fakeLedger) GetByID(_ context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	e, ok := f.entries[id]
	if !ok {
		return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
	}
	return e, nil
}

func (f *fakeLedger) ListByAccount(_ context.Context, id uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error) {
	f.lastPage, f.listedBy = page, "account"
	out := []domain.LedgerEntry{}
	for _, e := range f.entries {
		if e.AccountID == id {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListByFamily(_ context.Context, _ uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error) {
	f.lastPage, f.listedBy = page, "family"
	return []domain.LedgerEntry{}, nil
}

func (f *fakeLedger) ListByAccounts(_ context.Context, ids []uuid.UUID, page domain.Page) ([]domain.LedgerEntry, error) {
	f.lastPage, f.lastIDs, f.listedBy = page, ids, "accounts"
	return []domain.LedgerEntry{}, nil
}

func (f *fakeLedger) CurrentBalance(_ context.Context, id uuid.UUID) (decimal.Decimal, bool, error) {
	b, ok := f.balances[id]
	return b, ok, nil
}

type fakeChildren map[uuid.UUID]*domain.Child

func (f fakeChildren) GetByID(_ context.Context, id uuid.UUID) (*domain.Child, error) {
	c, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("GetByID: %w", domain.ErrAccountNotFound)
	}
	return c, nil
}

func (f fakeChildren) GetByFamilyID(_ context.Context, familyID uuid.UUID) ([]domain.Child, error) {
	var out []domain.Child
	for _, c := range f {
		if c.FamilyID == familyID {
			out = append(out, *c)
		}
	}
	return out, nil
}

type fixture struct {
	h        *TransactionHandler
	ledger   *fakeLedger
	parent   *auth.Claims
	child    *domain.Child
	stranger *domain.Child
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	family, otherFamily := uuid.New(), uuid.New()
	child := &domain.Child{ID: uuid.New(), FamilyID: family}
	stranger := &domain.Child{ID: uuid.New(), FamilyID: otherFamily}
	fl := newFakeLedger()
	fl.balances[child.ID] = decimal.Zero

	return &fixture{
		h:        NewTransactionHandler(fl, fakeChildren{child.ID: child, stranger.ID: stranger}, 3),
		ledger:   fl,
		parent:   &auth.Claims{UserID: uuid.New(), FamilyID: family, Role: auth.RoleParent},
		child:    child,
		stranger: stranger,
	}
}

func (f *fixture) childClaims() *auth.Claims {
	return &auth.Claims{UserID: f.child.ID, FamilyID: f.child.FamilyID, Role: auth.RoleChild}
}

func request(method, target, body string, claims *auth.Claims) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if claims != nil {
		req = req.WithContext(auth.ContextWithClaims(req.Context(), claims))
	}
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	body := fmt.Sprintf(`{"child_id":%q,"type":"credit","amount":"10.00","description":"allowance"}`, f.child.ID)

	rec := httptest.NewRecorder()
	f.h.Create(rec, request(http.MethodPost, "/api/v1/transactions", body, f.parent))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Location"), "/api/v1/transactions/")

	resp := decode(t, rec)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "10.00", data["amount"])
	assert.Equal(t, "0.00", data["balance_before"])
	assert.Equal(t, "10.00", data["balance_after"])
	assert.Equal(t, f.parent.UserID.String(), data["parent_admin_id"])

	require.Len(t, f.ledger.records, 1)
	assert.Equal(t, f.parent.UserID, *f.ledger.records[0].InitiatorID)
}

func TestCreate_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		body       func(f *fixture) string
		recordErr  error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "malformed json",
			body:       func(*fixture) string { return `{` },
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name: "too many decimals",
			body: func(f *fixture) string {
				return fmt.Sprintf(`{"child_id":%q,"type":"credit","amount":"1.001"}`, f.child.ID)
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name: "exponent amount",
			body: func(f *fixture) string {
				return fmt.Sprintf(`{"child_id":%q,"type":"credit","amount":"1e3"}`, f.child.ID)
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name: "huge exponent amount",
			body: func(f *fixture) string {
				return fmt.Sprintf(`{"child_id":%q,"type":"credit","amount":"1e50000000"}`, f.child.ID)
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name: "negative exponent amount",
			body: func(f *fixture) string {
				return fmt.Sprintf(`{"child_id":%q,"type":"credit","amount":"1e-5"}`, f.child.ID)
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name: "unknown type",
			body: func(f *fixture) string {
				return fmt.Sprintf(`{"child_id":%q,"type":"gift","amount":"1.00"}`, f.child.ID)
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name: "unknown child",
			body: func(*fixture) string {
				return fmt.Sprintf(`{"child_id":%q,"type":"credit","amount":"1.00"}`, uuid.New())
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "CHILD_NOT_FOUND",
		},
		{
			name: "child of another family",
			body: func(f *fixture) string {
				return fmt.Sprintf(`{"child_id":%q,"type":"credit","amount":"1.00"}`, f.stranger.ID)
			},
			wantStatus: http.StatusForbidden,
			wantCode:   "FORBIDDEN",
		},
		{
			name: "insufficient funds",
			body: func(f *fixture) string {
				return fmt.Sprintf(`{"child_id":%q,"type":"debit","amount":"1.00"}`, f.child.ID)
			},
			recordErr:  fmt.Errorf("Record: %w", domain.ErrInsufficientFunds),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "INSUFFICIENT_FUNDS",
		},
		{
			name: "balance ceiling",
			body: func(f *fixture) string {
				return fmt.Sprintf(`{"child_id":%q,"type":"credit","amount":"99999999.99"}`, f.child.ID)
			},
			recordErr:  fmt.Errorf("Record: %w", domain.ErrInvalidAmount),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_AMOUNT",
		},
		{
			name: "client went away",
			body: func(f *fixture) string {
				return fmt.Sprintf(`{"child_id":%q,"type":"credit","amount":"1.00"}`, f.child.ID)
			},
			recordErr:  fmt.Errorf("Record: %w", context.Canceled),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "REQUEST_CANCELLED",
		},
		{
			name: "storage failure hides cause",
			body: func(f *fixture) string {
				return fmt.Sprintf(`{"child_id":%q,"type":"credit","amount":"1.00"}`, f.child.ID)
			},
			recordErr:  &domain.StorageError{Op: "Create", Err: fmt.Errorf("pq: relation does not exist")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.recordErr != nil {
				f.ledger.recordErrs = []error{tc.recordErr}
			}

			rec := httptest.NewRecorder()
			f.h.Create(rec, request(http.MethodPost, "/api/v1/transactions", tc.body(f), f.parent))

			assert.Equal(t, tc.wantStatus, rec.Code)
			resp := decode(t, rec)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.wantCode, resp.Error.Code)
			assert.NotContains(t, rec.Body.String(), "pq:")
		})
	}
}

func TestCreate_RetriesWhileBusy(t *testing.T) {
	f := newFixture(t)
	busy := fmt.Errorf("Record: %w", domain.ErrLockTimeout)
	f.ledger.recordErrs = []error{busy, busy}
	body := fmt.Sprintf(`{"child_id":%q,"type":"credit","amount":"2.00"}`, f.child.ID)

	rec := httptest.NewRecorder()
	f.h.Create(rec, request(http.MethodPost, "/api/v1/transactions", body, f.parent))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, f.ledger.records, 3)
}

func TestCreate_BusyAfterRetries(t *testing.T) {
	f := newFixture(t)
	f.h.maxRetries = 1
	busy := fmt.Errorf("Record: %w", domain.ErrLockTimeout)
	f.ledger.recordErrs = []error{busy, busy, busy}
	body := fmt.Sprintf(`{"child_id":%q,"type":"credit","amount":"2.00"}`, f.child.ID)

	rec := httptest.NewRecorder()
	f.h.Create(rec, request(http.MethodPost, "/api/v1/transactions", body, f.parent))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Len(t, f.ledger.records, 2)
}

func TestCreate_NoRetryOnPermanentError(t *testing.T) {
	f := newFixture(t)
	f.ledger.recordErrs = []error{fmt.Errorf("Record: %w", domain.ErrInsufficientFunds)}
	body := fmt.Sprintf(`{"child_id":%q,"type":"debit","amount":"2.00"}`, f.child.ID)

	rec := httptest.NewRecorder()
	f.h.Create(rec, request(http.MethodPost, "/api/v1/transactions", body, f.parent))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Len(t, f.ledger.records, 1)
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	mine, err := f.ledger.Record(context.Background(), ledger.RecordRequest{
		AccountID: f.child.ID, Direction: domain.DirectionCredit, Amount: decimal.RequireFromString("1.00"),
	})
	require.NoError(t, err)
	theirs, err := f.ledger.Record(context.Background(), ledger.RecordRequest{
		AccountID: f.stranger.ID, Direction: domain.DirectionCredit, Amount: decimal.RequireFromString("1.00"),
	})
	require.NoError(t, err)

	tests := []struct {
		name       string
		id         string
		wantStatus int
	}{
		{name: "own family", id: mine.ID.String(), wantStatus: http.StatusOK},
		{name: "other family looks missing", id: theirs.ID.String(), wantStatus: http.StatusNotFound},
		{name: "unknown", id: uuid.NewString(), wantStatus: http.StatusNotFound},
		{name: "not a uuid", id: "abc", wantStatus: http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := request(http.MethodGet, "/api/v1/transactions/"+tc.id, "", f.parent)
			req.SetPathValue("id", tc.id)

			rec := httptest.NewRecorder()
			f.h.Get(rec, req)
			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

func TestListForChild(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		claims     *auth.Claims
		childID    uuid.UUID
		query      string
		wantStatus int
		wantPage   domain.Page
	}{
		{name: "parent", claims: f.parent, childID: f.child.ID, query: "?limit=10&offset=5", wantStatus: http.StatusOK, wantPage: domain.Page{Limit: 10, Offset: 5}},
		{name: "the child itself", claims: f.childClaims(), childID: f.child.ID, wantStatus: http.StatusOK},
		{name: "other family", claims: f.parent, childID: f.stranger.ID, wantStatus: http.StatusForbidden},
		{name: "sibling token", claims: &auth.Claims{UserID: uuid.New(), FamilyID: f.child.FamilyID, Role: auth.RoleChild}, childID: f.child.ID, wantStatus: http.StatusForbidden},
		{name: "bad limit", claims: f.parent, childID: f.child.ID, query: "?limit=ten", wantStatus: http.StatusBadRequest},
		{name: "negative offset", claims: f.parent, childID: f.child.ID, query: "?offset=-1", wantStatus: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f.ledger.lastPage = domain.Page{}
			req := request(http.MethodGet, "/api/v1/transactions/child/"+tc.childID.String()+tc.query, "", tc.claims)
			req.SetPathValue("id", tc.childID.String())

			rec := httptest.NewRecorder()
			f.h.ListForChild(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code, rec.Body.String())
			if tc.wantStatus == http.StatusOK {
				assert.Equal(t, tc.wantPage, f.ledger.lastPage)
				assert.Equal(t, "[]", strings.TrimSpace(extractData(t, rec)))
			}
		})
	}
}

func extractData(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	return string(raw["data"])
}

func TestListForFamily(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.h.ListForFamily(rec, request(http.MethodGet, "/api/v1/transactions/family", "", f.parent))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "family", f.ledger.listedBy)

	rec = httptest.NewRecorder()
	f.h.ListForFamily(rec, request(http.MethodGet, "/api/v1/transactions/family?child_id="+f.child.ID.String(), "", f.parent))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "accounts", f.ledger.listedBy)
	assert.Equal(t, []uuid.UUID{f.child.ID}, f.ledger.lastIDs)

	rec = httptest.NewRecorder()
	f.h.ListForFamily(rec, request(http.MethodGet, "/api/v1/transactions/family?child_id="+f.stranger.ID.String(), "", f.parent))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListMine(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Record(context.Background(), ledger.RecordRequest{
		AccountID: f.child.ID, Direction: domain.DirectionCredit, Amount: decimal.RequireFromString("3.00"),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.h.ListMine(rec, request(http.MethodGet, "/api/v1/transactions/mine", "", f.childClaims()))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec).Data.([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "3.00", data[0].(map[string]any)["amount"])
}

func TestBalance(t *testing.T) {
	f := newFixture(t)
	f.ledger.balances[f.child.ID] = decimal.RequireFromString("6.5")

	req := request(http.MethodGet, "/api/v1/children/"+f.child.ID.String()+"/balance", "", f.childClaims())
	req.SetPathValue("id", f.child.ID.String())
	rec := httptest.NewRecorder()
	f.h.Balance(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "6.50", decode(t, rec).Data.(map[string]any)["balance"])

	req = request(http.MethodGet, "/api/v1/children/"+f.stranger.ID.String()+"/balance", "", f.parent)
	req.SetPathValue("id", f.stranger.ID.String())
	rec = httptest.NewRecorder()
	f.h.Balance(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMissingClaims(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.h.ListMine(rec, request(http.MethodGet, "/api/v1/transactions/mine", "", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAppErrorFor(t *testing.T) {
	tests := []struct {
		err  error
		want *AppError
	}{
		{fmt.Errorf("x: %w", domain.ErrInvalidAmount), ErrInvalidAmount},
		{fmt.Errorf("x: %w", domain.ErrInvalidDirection), ErrInvalidDirection},
		{fmt.Errorf("x: %w", domain.ErrInvalidRequest), ErrInvalidRequest},
		{fmt.Errorf("x: %w", domain.ErrAccountNotFound), ErrAccountNotFound},
		{fmt.Errorf("x: %w", domain.ErrNotFound), ErrResourceNotFound},
		{fmt.Errorf("x: %w", domain.ErrForbidden), ErrForbidden},
		{fmt.Errorf("x: %w", domain.ErrInsufficientFunds), ErrInsufficientFunds},
		{fmt.Errorf("x: %w", domain.ErrLockTimeout), ErrAccountBusy},
		{&domain.StorageError{Op: "op", Err: context.DeadlineExceeded}, ErrInternalError},
		{fmt.Errorf("x: %w", context.Canceled), ErrRequestCancelled},
		{fmt.Errorf("x: %w", context.DeadlineExceeded), ErrRequestCancelled},
		{fmt.Errorf("x: %w", domain.ErrVersionConflict), ErrVersionConflict},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, appErrorFor(tc.err), tc.err.Error())
	}
}
