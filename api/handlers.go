/*
handlers.go - HTTP API handlers for the ledger engine

PURPOSE:
  Exposes the ledger engine via REST API for a thin shell UI. Handles
  HTTP request/response, JSON serialization, and delegates to the
  controller and store.

ENDPOINTS:
  Accounts:
    GET    /api/accounts               List all accounts
    GET    /api/payees                 List all payees

  Register:
    GET    /api/accounts/{id}/register Page of rendered register rows
    POST   /api/accounts/{id}/edit     Open an edit (existing/new/schedule)
    PUT    /api/accounts/{id}/edit/field   Stage one field
    POST   /api/accounts/{id}/edit/validate  Dry-run validation
    POST   /api/accounts/{id}/edit/commit    Commit pending edit
    POST   /api/accounts/{id}/edit/discard   Discard pending edit
    POST   /api/accounts/{id}/actions        Invoke a row action

  Schedules:
    GET    /api/schedules              List all schedules
    GET    /api/schedules/{id}/occurrences   Projected due dates
    DELETE /api/schedules/{id}         Remove a schedule

  Admin:
    POST   /api/reset                  Reset and reseed the demo book

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access
  - One controller per account, created lazily and cached. Each
    controller carries the account's sorted row cache and edit buffer.

CONCURRENCY:
  The engine is single-writer per book. Each account session carries a
  mutex; handlers serialize on it so concurrent HTTP requests cannot
  interleave edit-buffer mutations.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (edit already in progress, store rejection)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. The API fronts a
  single-user desktop book.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ledger/controller.go: The facade the handlers drive
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/store/sqlite"
	_ "github.com/warp/ledger-engine/views" // register view schemes
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// session is one account's live controller plus the mutex that
// serializes HTTP access to its edit buffer.
type session struct {
	mu   sync.Mutex
	ctrl *ledger.Controller
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store *sqlite.Store
	Log   zerolog.Logger

	// Seeder rebuilds the demo book on reset. Optional.
	Seeder func(ctx context.Context, s *sqlite.Store) error

	mu       sync.Mutex
	sessions map[ledger.AccountID]*session
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store, log zerolog.Logger) *Handler {
	return &Handler{
		Store:    store,
		Log:      log,
		sessions: make(map[ledger.AccountID]*session),
	}
}

// Close tears down every live controller.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		s.ctrl.Close()
	}
	h.sessions = make(map[ledger.AccountID]*session)
}

func (h *Handler) session(ctx context.Context, id ledger.AccountID) (*session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[id]; ok {
		return s, nil
	}
	ctrl, err := ledger.NewController(ctx, h.Store, id)
	if err != nil {
		return nil, err
	}
	s := &session{ctrl: ctrl}
	h.sessions[id] = s
	return s, nil
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.Accounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListPayees returns all payees.
func (h *Handler) ListPayees(w http.ResponseWriter, r *http.Request) {
	payees, err := h.Store.Payees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payees", err)
		return
	}

	dtos := make([]PayeeDTO, len(payees))
	for i, p := range payees {
		dtos[i] = PayeeDTO{ID: string(p.ID), Name: p.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REGISTER HANDLERS
// =============================================================================

// GetRegister renders a page of register rows through the account's
// view scheme.
// GET /api/accounts/{id}/register?offset=0&limit=100
func (h *Handler) GetRegister(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	s, err := h.session(r.Context(), id)
	if err != nil {
		writeStoreError(w, "Failed to open account register", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 100)

	total := s.ctrl.RowCount()
	if offset < 0 {
		offset = 0
	}
	end := offset + limit
	if end > total {
		end = total
	}

	cols := s.ctrl.Columns()
	dto := RegisterDTO{
		Account: string(id),
		Total:   total,
		Offset:  offset,
		Columns: make([]ColumnDTO, len(cols)),
		Rows:    make([]RowDTO, 0, end-offset),
	}
	for i, col := range cols {
		dto.Columns[i] = ColumnDTO{ID: string(col)}
	}

	for i := offset; i < end; i++ {
		row := s.ctrl.RowAt(i)
		rd := RowDTO{
			Index:   i,
			Virtual: row.IsVirtual(),
			Values:  make(map[string]string, len(cols)),
		}
		for _, col := range cols {
			rd.Values[string(col)] = s.ctrl.DisplayValue(i, col)
		}
		for _, a := range s.ctrl.Actions(ledger.Selection{Row: row, SubRow: -1}) {
			rd.Actions = append(rd.Actions, string(a))
		}
		for sub := 0; sub < s.ctrl.SubRowCount(row); sub++ {
			sd := SubRowDTO{Index: sub, Values: make(map[string]string, len(cols))}
			for _, col := range cols {
				sd.Values[string(col)] = s.ctrl.SubRowValue(i, sub, col)
			}
			for _, a := range s.ctrl.Actions(ledger.Selection{Row: row, SubRow: sub}) {
				sd.Actions = append(sd.Actions, string(a))
			}
			rd.SubRows = append(rd.SubRows, sd)
		}
		dto.Rows = append(dto.Rows, rd)
	}

	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// EDIT HANDLERS
// =============================================================================

// StartEdit opens an edit session for an existing row, a blank new
// transaction, or a schedule.
// POST /api/accounts/{id}/edit
func (h *Handler) StartEdit(w http.ResponseWriter, r *http.Request) {
	var req StartEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := ledger.AccountID(chi.URLParam(r, "id"))
	s, err := h.session(r.Context(), id)
	if err != nil {
		writeStoreError(w, "Failed to open account register", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !req.New && (req.Row < 0 || req.Row >= s.ctrl.RowCount()) {
		writeError(w, http.StatusBadRequest, "Row out of range", nil)
		return
	}
	switch {
	case req.New:
		err = s.ctrl.StartNew()
	case req.Schedule:
		err = s.ctrl.StartScheduleEdit(req.Row)
	default:
		err = s.ctrl.StartEdit(req.Row)
	}
	if err != nil {
		writeEditError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.ctrl.EditState())})
}

// SetField stages one field of the pending edit.
// PUT /api/accounts/{id}/edit/field
func (h *Handler) SetField(w http.ResponseWriter, r *http.Request) {
	var req SetFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := ledger.AccountID(chi.URLParam(r, "id"))
	s, err := h.session(r.Context(), id)
	if err != nil {
		writeStoreError(w, "Failed to open account register", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ctrl.SetField(ledger.Column(req.Column), req.Value); err != nil {
		writeEditError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.ctrl.EditState())})
}

// ValidateEdit dry-runs validation on the pending edit.
// POST /api/accounts/{id}/edit/validate
func (h *Handler) ValidateEdit(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	s, err := h.session(r.Context(), id)
	if err != nil {
		writeStoreError(w, "Failed to open account register", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	errs := s.ctrl.Validate(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"errors": toFieldErrorDTOs(errs)})
}

// CommitEdit commits the pending edit.
// POST /api/accounts/{id}/edit/commit
func (h *Handler) CommitEdit(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	s, err := h.session(r.Context(), id)
	if err != nil {
		writeStoreError(w, "Failed to open account register", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.ctrl.Commit(r.Context())
	if err != nil {
		if errors.Is(err, ledger.ErrValidationFailed) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"errors": toFieldErrorDTOs(s.ctrl.Validate(r.Context())),
			})
			return
		}
		writeEditError(w, err)
		return
	}

	dto := CommitResultDTO{}
	if result.Txn != nil {
		dto.TransactionID = string(result.Txn.ID)
	}
	if result.Schedule != nil {
		dto.ScheduleID = string(result.Schedule.ID)
	}
	h.Log.Info().Str("account", string(id)).
		Str("transaction", dto.TransactionID).
		Str("schedule", dto.ScheduleID).
		Msg("edit committed")
	writeJSON(w, http.StatusOK, dto)
}

// DiscardEdit discards the pending edit.
// POST /api/accounts/{id}/edit/discard
func (h *Handler) DiscardEdit(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	s, err := h.session(r.Context(), id)
	if err != nil {
		writeStoreError(w, "Failed to open account register", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctrl.Discard()
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.ctrl.EditState())})
}

// ApplyAction invokes a row action: enter or cancel an occurrence,
// convert a simple transfer to an explicit split, or remove a leg.
// POST /api/accounts/{id}/actions
func (h *Handler) ApplyAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := ledger.AccountID(chi.URLParam(r, "id"))
	s, err := h.session(r.Context(), id)
	if err != nil {
		writeStoreError(w, "Failed to open account register", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Row < 0 || req.Row >= s.ctrl.RowCount() {
		writeError(w, http.StatusBadRequest, "Row out of range", nil)
		return
	}
	sel := ledger.Selection{Row: s.ctrl.RowAt(req.Row), SubRow: req.SubRow}
	if err := s.ctrl.Apply(r.Context(), ledger.Action(req.Action), sel); err != nil {
		writeEditError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// ListSchedules returns all schedules.
// GET /api/schedules
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.Store.AllSchedules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list schedules", err)
		return
	}

	dtos := make([]ScheduleDTO, len(schedules))
	for i, s := range schedules {
		dtos[i] = toScheduleDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetOccurrences projects a schedule's due dates over a window.
// GET /api/schedules/{id}/occurrences?from=2026-01-01&to=2026-12-31
func (h *Handler) GetOccurrences(w http.ResponseWriter, r *http.Request) {
	id := ledger.ScheduleID(chi.URLParam(r, "id"))
	sch, err := h.Store.Schedule(r.Context(), id)
	if err != nil {
		writeStoreError(w, "Failed to load schedule", err)
		return
	}

	from := ledger.Today()
	to := from.AddMonths(12)
	if s := r.URL.Query().Get("from"); s != "" {
		if from, err = ledger.ParseDate(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date", err)
			return
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		if to, err = ledger.ParseDate(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date", err)
			return
		}
	}

	bound := ledger.UntilBound(to)
	dtos := []OccurrenceDTO{}
	for _, due := range sch.Recurrence.Occurrences(sch.Exceptions(), bound) {
		if due.Before(from) {
			continue
		}
		dtos = append(dtos, OccurrenceDTO{Schedule: string(id), Due: due.String()})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeleteSchedule removes a schedule. Already-entered transactions stay.
// DELETE /api/schedules/{id}
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := ledger.ScheduleID(chi.URLParam(r, "id"))
	if err := h.Store.RemoveSchedule(r.Context(), id); err != nil {
		writeStoreError(w, "Failed to remove schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ResetDatabase drops all sessions and reseeds the demo book.
// POST /api/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.Seeder == nil {
		writeError(w, http.StatusNotFound, "No seeder configured", nil)
		return
	}

	h.Close()
	if err := h.Seeder(r.Context(), h.Store); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reseed book", err)
		return
	}
	h.Log.Info().Msg("demo book reseeded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeStoreError maps store lookups to 404 versus 500.
func writeStoreError(w http.ResponseWriter, message string, err error) {
	if ledger.IsNotFound(err) {
		writeError(w, http.StatusNotFound, message, err)
		return
	}
	writeError(w, http.StatusInternalServerError, message, err)
}

// writeEditError maps edit-buffer errors to HTTP statuses.
func writeEditError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrEditInProgress):
		writeError(w, http.StatusConflict, "An edit is already in progress", err)
	case errors.Is(err, ledger.ErrNoEdit):
		writeError(w, http.StatusBadRequest, "No edit in progress", err)
	case errors.Is(err, ledger.ErrStoreRejected):
		writeError(w, http.StatusConflict, "Store rejected the commit", err)
	case errors.Is(err, ledger.ErrValidationFailed):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
