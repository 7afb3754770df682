/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Accounts:
    AccountDTO, PayeeDTO

  Register:
    RegisterDTO, RowDTO, ColumnDTO, SubRowDTO

  Editing:
    StartEditRequest, SetFieldRequest, ActionRequest,
    FieldErrorDTO, CommitResultDTO

  Schedules:
    ScheduleDTO, OccurrenceDTO

VALIDATION:
  Validation is done in handlers and in the edit buffer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/scheme.go: Column and Action identifiers
*/
package api

import (
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Unit   string `json:"unit,omitempty"`
	Parent string `json:"parent,omitempty"`
	Closed bool   `json:"closed,omitempty"`
}

// PayeeDTO represents a payee in API responses.
type PayeeDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ColumnDTO describes one register column. Editability is per-row and
// is answered by the edit endpoints, not the column list.
type ColumnDTO struct {
	ID string `json:"id"`
}

// RowDTO is one register row rendered through the account's view scheme.
type RowDTO struct {
	Index   int               `json:"index"`
	Virtual bool              `json:"virtual"`
	Values  map[string]string `json:"values"`
	SubRows []SubRowDTO       `json:"sub_rows,omitempty"`
	Actions []string          `json:"actions,omitempty"`
}

// SubRowDTO is one split leg of an expanded row.
type SubRowDTO struct {
	Index   int               `json:"index"`
	Values  map[string]string `json:"values"`
	Actions []string          `json:"actions,omitempty"`
}

// RegisterDTO is a page of register rows.
type RegisterDTO struct {
	Account string      `json:"account"`
	Total   int         `json:"total"`
	Offset  int         `json:"offset"`
	Columns []ColumnDTO `json:"columns"`
	Rows    []RowDTO    `json:"rows"`
}

// StartEditRequest opens an edit session. Exactly one mode applies:
// Row >= 0 edits an existing row (real rows load the transaction,
// virtual rows start an occurrence entry); New starts a blank
// transaction; Schedule starts schedule creation or edit.
type StartEditRequest struct {
	Row      int  `json:"row"`
	New      bool `json:"new,omitempty"`
	Schedule bool `json:"schedule,omitempty"`
}

// SetFieldRequest stages one field of the pending edit.
type SetFieldRequest struct {
	Column string `json:"column"`
	SubRow int    `json:"sub_row"` // -1 for the main row
	Value  string `json:"value"`
}

// ActionRequest invokes a row action (enter/cancel occurrence, split ops).
type ActionRequest struct {
	Action string `json:"action"`
	Row    int    `json:"row"`
	SubRow int    `json:"sub_row"`
}

// FieldErrorDTO is one validation problem, bound to a column when known.
type FieldErrorDTO struct {
	Message string `json:"message"`
	Column  string `json:"column,omitempty"`
}

// CommitResultDTO reports what a successful commit produced.
type CommitResultDTO struct {
	TransactionID string `json:"transaction_id,omitempty"`
	ScheduleID    string `json:"schedule_id,omitempty"`
}

// ScheduleDTO represents a schedule in API responses.
type ScheduleDTO struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Active    bool     `json:"active"`
	AutoEnter bool     `json:"auto_enter"`
	Frequency string   `json:"frequency"`
	Interval  int      `json:"interval"`
	Start     string   `json:"start"`
	Until     string   `json:"until,omitempty"`
	Remaining *int     `json:"remaining,omitempty"`
	Entered   []string `json:"entered,omitempty"`
	Canceled  []string `json:"canceled,omitempty"`
}

// OccurrenceDTO is one projected due date of a schedule.
type OccurrenceDTO struct {
	Schedule string `json:"schedule"`
	Due      string `json:"due"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAccountDTO(a ledger.Account) AccountDTO {
	dto := AccountDTO{
		ID:     string(a.ID),
		Name:   a.Name,
		Type:   string(a.Type),
		Parent: string(a.Parent),
		Closed: a.Closed,
	}
	if a.Unit.Code != "" {
		dto.Unit = a.Unit.String()
	}
	return dto
}

func toScheduleDTO(s *ledger.Schedule) ScheduleDTO {
	dto := ScheduleDTO{
		ID:        string(s.ID),
		Name:      s.Name,
		Active:    s.Active,
		AutoEnter: s.AutoEnter,
		Frequency: string(s.Recurrence.Frequency),
		Interval:  s.Recurrence.Interval,
		Start:     s.Recurrence.Start.String(),
		Remaining: s.Recurrence.Remaining,
	}
	if s.Recurrence.Until != nil {
		dto.Until = s.Recurrence.Until.String()
	}
	for _, d := range s.Entered.Dates() {
		dto.Entered = append(dto.Entered, d.String())
	}
	for _, d := range s.Canceled.Dates() {
		dto.Canceled = append(dto.Canceled, d.String())
	}
	return dto
}

func toFieldErrorDTOs(errs []ledger.FieldError) []FieldErrorDTO {
	out := make([]FieldErrorDTO, len(errs))
	for i, e := range errs {
		out[i] = FieldErrorDTO{Message: e.Message, Column: string(e.Column)}
	}
	return out
}
