package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/store/sqlite"
)

func usd() ledger.Unit { return ledger.Currency("USD") }

func dt(y int, m time.Month, d int) ledger.Date { return ledger.NewDate(y, m, d) }

func newTestServer(t *testing.T) (*Handler, http.Handler, *sqlite.Store) {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "book.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	h := NewHandler(s, zerolog.Nop())
	t.Cleanup(h.Close)
	return h, NewRouter(h), s
}

func seedBook(t *testing.T, s *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	for _, a := range []ledger.Account{
		{ID: "checking", Name: "Checking", Type: ledger.AccountGeneric, Unit: usd()},
		{ID: "groceries", Name: "Groceries", Type: ledger.AccountGeneric, Unit: usd()},
		{ID: "salary", Name: "Salary", Type: ledger.AccountGeneric, Unit: usd()},
	} {
		require.NoError(t, s.SaveAccount(ctx, a))
	}
	require.NoError(t, s.SavePayee(ctx, ledger.Payee{ID: "acme", Name: "ACME Corp"}))
}

func do(t *testing.T, mux http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

// =============================================================================
// BASICS
// =============================================================================

func TestHealthz(t *testing.T) {
	_, mux, _ := newTestServer(t)
	rec := do(t, mux, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListAccountsAndPayees(t *testing.T) {
	_, mux, s := newTestServer(t)
	seedBook(t, s)

	rec := do(t, mux, http.MethodGet, "/api/accounts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	accounts := decode[[]AccountDTO](t, rec)
	assert.Len(t, accounts, 3)
	assert.Equal(t, "USD", accounts[0].Unit)

	rec = do(t, mux, http.MethodGet, "/api/payees", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payees := decode[[]PayeeDTO](t, rec)
	require.Len(t, payees, 1)
	assert.Equal(t, "ACME Corp", payees[0].Name)
}

func TestRegisterUnknownAccountIs404(t *testing.T) {
	_, mux, _ := newTestServer(t)
	rec := do(t, mux, http.MethodGet, "/api/accounts/ghost/register", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// REGISTER RENDERING
// =============================================================================

func TestGetRegisterRendersRows(t *testing.T) {
	_, mux, s := newTestServer(t)
	seedBook(t, s)
	ctx := context.Background()

	tx := &ledger.Transaction{
		ID: "t1", Date: ledger.Today().AddDays(-1), Payee: "acme",
		Splits: []ledger.Split{
			{Account: "checking", Amount: ledger.MustParseDecimal("2500"), Unit: usd()},
			{Account: "salary", Amount: ledger.MustParseDecimal("-2500"), Unit: usd()},
		},
	}
	require.NoError(t, s.CommitTransaction(ctx, tx))

	rec := do(t, mux, http.MethodGet, "/api/accounts/checking/register", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reg := decode[RegisterDTO](t, rec)

	assert.Equal(t, "checking", reg.Account)
	assert.Equal(t, 1, reg.Total)
	require.Len(t, reg.Rows, 1)
	row := reg.Rows[0]
	assert.False(t, row.Virtual)
	assert.Equal(t, "ACME Corp", row.Values["payee"])
	assert.Equal(t, "$2,500.00", row.Values["debit"])
	assert.Equal(t, "$2,500.00", row.Values["balance"])
	assert.Contains(t, row.Actions, "convert_to_split")
}

func TestGetRegisterPaging(t *testing.T) {
	_, mux, s := newTestServer(t)
	seedBook(t, s)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		tx := &ledger.Transaction{
			ID: ledger.TransactionID(id), Date: ledger.Today().AddDays(-10 + i),
			Splits: []ledger.Split{
				{Account: "checking", Amount: ledger.MustParseDecimal("5"), Unit: usd()},
				{Account: "salary", Amount: ledger.MustParseDecimal("-5"), Unit: usd()},
			},
		}
		require.NoError(t, s.CommitTransaction(ctx, tx))
	}

	rec := do(t, mux, http.MethodGet, "/api/accounts/checking/register?offset=2&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reg := decode[RegisterDTO](t, rec)
	assert.Equal(t, 5, reg.Total)
	assert.Equal(t, 2, reg.Offset)
	require.Len(t, reg.Rows, 2)
	assert.Equal(t, 2, reg.Rows[0].Index)
}

// =============================================================================
// EDIT LIFECYCLE
// =============================================================================

func TestEditLifecycleOverHTTP(t *testing.T) {
	// GIVEN: A seeded book and an open new-row edit
	_, mux, s := newTestServer(t)
	seedBook(t, s)

	rec := do(t, mux, http.MethodPost, "/api/accounts/checking/edit", StartEditRequest{New: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "editing_new", decode[map[string]string](t, rec)["state"])

	// WHEN: Fields are staged and validated
	for col, v := range map[string]string{
		"payee": "acme", "transfer": "salary", "debit": "2500",
	} {
		rec = do(t, mux, http.MethodPut, "/api/accounts/checking/edit/field",
			SetFieldRequest{Column: col, SubRow: -1, Value: v})
		require.Equal(t, http.StatusOK, rec.Code, "set %s", col)
	}
	rec = do(t, mux, http.MethodPost, "/api/accounts/checking/edit/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	validation := decode[map[string][]FieldErrorDTO](t, rec)
	assert.Empty(t, validation["errors"])

	// THEN: Commit succeeds and the register shows the row
	rec = do(t, mux, http.MethodPost, "/api/accounts/checking/edit/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[CommitResultDTO](t, rec)
	assert.NotEmpty(t, result.TransactionID)

	rec = do(t, mux, http.MethodGet, "/api/accounts/checking/register", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[RegisterDTO](t, rec).Total)
}

func TestSecondEditConflicts(t *testing.T) {
	_, mux, s := newTestServer(t)
	seedBook(t, s)

	rec := do(t, mux, http.MethodPost, "/api/accounts/checking/edit", StartEditRequest{New: true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, mux, http.MethodPost, "/api/accounts/checking/edit", StartEditRequest{New: true})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Discard clears the conflict.
	rec = do(t, mux, http.MethodPost, "/api/accounts/checking/edit/discard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, mux, http.MethodPost, "/api/accounts/checking/edit", StartEditRequest{New: true})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCommitInvalidEditReturnsFieldErrors(t *testing.T) {
	_, mux, s := newTestServer(t)
	seedBook(t, s)

	rec := do(t, mux, http.MethodPost, "/api/accounts/checking/edit", StartEditRequest{New: true})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, mux, http.MethodPut, "/api/accounts/checking/edit/field",
		SetFieldRequest{Column: "debit", SubRow: -1, Value: "10"})
	require.Equal(t, http.StatusOK, rec.Code)

	// The single-leg scratch cannot balance.
	rec = do(t, mux, http.MethodPost, "/api/accounts/checking/edit/commit", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	validation := decode[map[string][]FieldErrorDTO](t, rec)
	assert.NotEmpty(t, validation["errors"])
}

func TestStartEditRejectsRowOutOfRange(t *testing.T) {
	_, mux, s := newTestServer(t)
	seedBook(t, s)

	rec := do(t, mux, http.MethodPost, "/api/accounts/checking/edit", StartEditRequest{Row: 7})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ACTIONS AND SCHEDULES
// =============================================================================

func seedSchedule(t *testing.T, s *sqlite.Store) {
	t.Helper()
	sch := &ledger.Schedule{
		ID:     "rent",
		Name:   "Rent",
		Active: true,
		Template: ledger.Transaction{
			Splits: []ledger.Split{
				{Account: "checking", Amount: ledger.MustParseDecimal("-700"), Unit: usd()},
				{Account: "groceries", Amount: ledger.MustParseDecimal("700"), Unit: usd()},
			},
		},
		Recurrence: ledger.Recurrence{Start: dt(2026, 1, 1), Frequency: ledger.FreqMonthly},
		Entered:    ledger.NewDateSet(),
		Canceled:   ledger.NewDateSet(),
	}
	require.NoError(t, s.CommitSchedule(context.Background(), sch))
}

func TestCancelOccurrenceOverHTTP(t *testing.T) {
	_, mux, s := newTestServer(t)
	seedBook(t, s)
	seedSchedule(t, s)

	rec := do(t, mux, http.MethodGet, "/api/accounts/checking/register", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	before := decode[RegisterDTO](t, rec)
	require.NotEmpty(t, before.Rows)
	require.True(t, before.Rows[0].Virtual)
	assert.Contains(t, before.Rows[0].Actions, "cancel_occurrence")

	rec = do(t, mux, http.MethodPost, "/api/accounts/checking/actions",
		ActionRequest{Action: "cancel_occurrence", Row: 0, SubRow: -1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, mux, http.MethodGet, "/api/accounts/checking/register", nil)
	after := decode[RegisterDTO](t, rec)
	assert.Equal(t, before.Total-1, after.Total)

	rec = do(t, mux, http.MethodPost, "/api/accounts/checking/actions",
		ActionRequest{Action: "cancel_occurrence", Row: 99, SubRow: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleEndpoints(t *testing.T) {
	_, mux, s := newTestServer(t)
	seedBook(t, s)
	seedSchedule(t, s)

	rec := do(t, mux, http.MethodGet, "/api/schedules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	schedules := decode[[]ScheduleDTO](t, rec)
	require.Len(t, schedules, 1)
	assert.Equal(t, "rent", schedules[0].ID)
	assert.Equal(t, "monthly", schedules[0].Frequency)

	rec = do(t, mux, http.MethodGet,
		"/api/schedules/rent/occurrences?from=2026-01-01&to=2026-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	occ := decode[[]OccurrenceDTO](t, rec)
	require.Len(t, occ, 3)
	assert.Equal(t, "2026-01-01", occ[0].Due)
	assert.Equal(t, "2026-03-01", occ[2].Due)

	rec = do(t, mux, http.MethodDelete, "/api/schedules/rent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, mux, http.MethodGet, "/api/schedules/rent/occurrences", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestResetReseedsThroughTheSeeder(t *testing.T) {
	h, mux, s := newTestServer(t)
	seeded := 0
	h.Seeder = func(ctx context.Context, st *sqlite.Store) error {
		seeded++
		return st.SaveAccount(ctx, ledger.Account{
			ID: "fresh", Name: "Fresh", Type: ledger.AccountGeneric, Unit: usd(),
		})
	}

	rec := do(t, mux, http.MethodPost, "/api/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, seeded)

	a, err := s.Account(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, "Fresh", a.Name)
}

func TestResetWithoutSeederIs404(t *testing.T) {
	_, mux, _ := newTestServer(t)
	rec := do(t, mux, http.MethodPost, "/api/reset", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
