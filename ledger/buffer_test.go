package ledger_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
)

func checkingAccount() ledger.Account {
	return ledger.Account{ID: "checking", Name: "Checking", Type: ledger.AccountGeneric, Unit: usd()}
}

func newCheckingBuffer(t *testing.T) (*ledger.Buffer, *store.Memory) {
	t.Helper()
	m := newBook(t)
	return ledger.NewBuffer(m, checkingAccount()), m
}

func hasFieldError(errs []ledger.FieldError, col ledger.Column, substr string) bool {
	for _, e := range errs {
		if e.Column == col && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestBufferEnforcesSingleEdit(t *testing.T) {
	b, _ := newCheckingBuffer(t)

	if b.State() != ledger.EditIdle {
		t.Fatalf("fresh buffer state = %s", b.State())
	}
	if err := b.Set(ledger.ColMemo, "x"); !errors.Is(err, ledger.ErrNoEdit) {
		t.Errorf("Set while idle: %v", err)
	}
	if _, err := b.Commit(context.Background()); !errors.Is(err, ledger.ErrNoEdit) {
		t.Errorf("Commit while idle: %v", err)
	}

	if err := b.StartNew(); err != nil {
		t.Fatal(err)
	}
	if b.State() != ledger.EditNew {
		t.Errorf("state after StartNew = %s", b.State())
	}
	if err := b.StartNew(); !errors.Is(err, ledger.ErrEditInProgress) {
		t.Errorf("second start: %v", err)
	}
	if err := b.StartExisting(0, &ledger.Transaction{ID: "t"}); !errors.Is(err, ledger.ErrEditInProgress) {
		t.Errorf("start existing over active edit: %v", err)
	}

	b.Discard()
	if b.State() != ledger.EditIdle || b.Scratch() != nil {
		t.Error("discard must reset to idle with no scratch")
	}
	if err := b.StartNew(); err != nil {
		t.Errorf("start after discard: %v", err)
	}
}

func TestStartNewSeedsTodayAndOwnLeg(t *testing.T) {
	b, _ := newCheckingBuffer(t)
	if err := b.StartNew(); err != nil {
		t.Fatal(err)
	}
	sc := b.Scratch()
	if sc.ID == "" {
		t.Error("new scratch has no id")
	}
	if !sc.Date.Equal(ledger.Today()) {
		t.Errorf("new scratch dated %s", sc.Date)
	}
	if len(sc.Splits) != 1 || sc.Splits[0].Account != "checking" || sc.Splits[0].Unit != usd() {
		t.Errorf("own leg not seeded: %+v", sc.Splits)
	}
}

func TestStartExistingEditsACloneNotTheOriginal(t *testing.T) {
	b, _ := newCheckingBuffer(t)
	orig := simpleTx("t1", dt(2026, 2, 10), "50", "groceries")
	if err := b.StartExisting(3, orig); err != nil {
		t.Fatal(err)
	}
	if b.RowPos() != 3 {
		t.Errorf("row pos = %d", b.RowPos())
	}

	if err := b.Set(ledger.ColMemo, "changed"); err != nil {
		t.Fatal(err)
	}
	if orig.Memo == "changed" {
		t.Error("edit leaked into the original transaction")
	}
}

// =============================================================================
// FIELD COERCION
// =============================================================================

func TestSetCoercesDatesAndAmounts(t *testing.T) {
	b, _ := newCheckingBuffer(t)
	if err := b.StartNew(); err != nil {
		t.Fatal(err)
	}

	if err := b.Set(ledger.ColDate, "2026-04-15"); err != nil {
		t.Fatal(err)
	}
	if got := b.Scratch().Date; !got.Equal(dt(2026, 4, 15)) {
		t.Errorf("date coerced to %s", got)
	}

	if err := b.Set(ledger.ColDebit, "123.45"); err != nil {
		t.Fatal(err)
	}
	if got := b.Scratch().Splits[0].Amount; !got.Equal(num("123.45")) {
		t.Errorf("debit coerced to %s", got)
	}

	// Credit is the negated convenience column.
	if err := b.Set(ledger.ColCredit, "20"); err != nil {
		t.Fatal(err)
	}
	if got := b.Scratch().Splits[0].Amount; !got.Equal(num("-20")) {
		t.Errorf("credit coerced to %s", got)
	}
}

func TestBadInputIsAFieldErrorNotABlock(t *testing.T) {
	// GIVEN: An active edit
	b, _ := newCheckingBuffer(t)
	if err := b.StartNew(); err != nil {
		t.Fatal(err)
	}

	// WHEN: Garbage lands in the amount column
	if err := b.Set(ledger.ColDebit, "12..3"); err != nil {
		t.Fatalf("coercion failure must not error the call: %v", err)
	}

	// THEN: Validate resurfaces it against the same column
	errs := b.Validate(context.Background())
	if !hasFieldError(errs, ledger.ColDebit, "unparseable amount") {
		t.Errorf("missing coercion error: %v", errs)
	}

	// AND: Correcting the field clears it
	if err := b.Set(ledger.ColDebit, "12.3"); err != nil {
		t.Fatal(err)
	}
	if hasFieldError(b.Validate(context.Background()), ledger.ColDebit, "unparseable") {
		t.Error("corrected field still reports the stale coercion error")
	}

	if err := b.Set(ledger.ColDate, "not a date"); err != nil {
		t.Fatal(err)
	}
	if !hasFieldError(b.Validate(context.Background()), ledger.ColDate, "unparseable date") {
		t.Error("bad date not surfaced")
	}
}

func TestTwoLegMirroringKeepsSimpleEditsBalanced(t *testing.T) {
	b, _ := newCheckingBuffer(t)
	if err := b.StartNew(); err != nil {
		t.Fatal(err)
	}

	// Transfer target creates the counter-leg.
	if err := b.Set(ledger.ColTransfer, "groceries"); err != nil {
		t.Fatal(err)
	}
	sc := b.Scratch()
	if len(sc.Splits) != 2 || sc.Splits[1].Account != "groceries" {
		t.Fatalf("counter-leg not created: %+v", sc.Splits)
	}

	// Amount edits mirror onto the counter-leg.
	if err := b.Set(ledger.ColDebit, "42"); err != nil {
		t.Fatal(err)
	}
	if !sc.Splits[0].Amount.Equal(num("42")) || !sc.Splits[1].Amount.Equal(num("-42")) {
		t.Errorf("mirroring broken: %+v", sc.Splits)
	}

	// Retargeting the transfer keeps the amounts.
	if err := b.Set(ledger.ColTransfer, "savings"); err != nil {
		t.Fatal(err)
	}
	if sc.Splits[1].Account != "savings" || !sc.Splits[1].Amount.Equal(num("-42")) {
		t.Errorf("retarget lost state: %+v", sc.Splits)
	}
}

func TestMirroringStopsForSplitAndCrossUnitTransactions(t *testing.T) {
	b, _ := newCheckingBuffer(t)
	if err := b.StartNew(); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ledger.ColTransfer, "groceries"); err != nil {
		t.Fatal(err)
	}
	if err := b.AddSplit(ledger.Split{Account: "savings", Amount: num("-5"), Unit: usd()}); err != nil {
		t.Fatal(err)
	}

	// WHEN: Editing the amount of a three-leg transaction
	if err := b.Set(ledger.ColDebit, "100"); err != nil {
		t.Fatal(err)
	}

	// THEN: Only the own leg changes
	sc := b.Scratch()
	if !sc.Splits[0].Amount.Equal(num("100")) {
		t.Errorf("own leg: %s", sc.Splits[0].Amount)
	}
	if !sc.Splits[1].Amount.IsZero() {
		t.Errorf("mirroring must not fire with three legs: %s", sc.Splits[1].Amount)
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidateChecksReferencesAndBalance(t *testing.T) {
	b, m := newCheckingBuffer(t)
	if err := b.StartNew(); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ledger.ColTransfer, "no-such-account"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ledger.ColPayee, "no-such-payee"); err != nil {
		t.Fatal(err)
	}

	errs := b.Validate(context.Background())
	if !hasFieldError(errs, ledger.ColTransfer, "does not exist") {
		t.Errorf("missing account error absent: %v", errs)
	}
	if !hasFieldError(errs, ledger.ColPayee, "does not exist") {
		t.Errorf("missing payee error absent: %v", errs)
	}

	// Closed accounts are rejected too.
	closed := ledger.Account{ID: "old", Name: "Old", Type: ledger.AccountGeneric, Unit: usd(), Closed: true}
	if err := m.SaveAccount(context.Background(), closed); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ledger.ColTransfer, "old"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ledger.ColPayee, "acme"); err != nil {
		t.Fatal(err)
	}
	errs = b.Validate(context.Background())
	if !hasFieldError(errs, ledger.ColTransfer, "is closed") {
		t.Errorf("closed account not rejected: %v", errs)
	}
}

func TestValidateReportsImbalanceAgainstTheAmountColumn(t *testing.T) {
	b, _ := newCheckingBuffer(t)
	if err := b.StartNew(); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ledger.ColTransfer, "groceries"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ledger.ColDebit, "10"); err != nil {
		t.Fatal(err)
	}
	// Break the mirror deliberately.
	if err := b.SetSplit(1, ledger.Split{Account: "groceries", Amount: num("-7"), Unit: usd()}); err != nil {
		t.Fatal(err)
	}

	errs := b.Validate(context.Background())
	if !hasFieldError(errs, ledger.ColDebit, "do not balance") {
		t.Errorf("imbalance not surfaced: %v", errs)
	}
}

func TestApplyTradingRepairsCrossUnitScratch(t *testing.T) {
	// GIVEN: A buffer holding a security purchase with no trading legs
	b, _ := newCheckingBuffer(t)
	if err := b.StartNew(); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ledger.ColDebit, "-1500"); err != nil {
		t.Fatal(err)
	}
	if err := b.AddSplit(ledger.Split{Account: "savings", Amount: num("10"), Unit: ledger.Security("VTI")}); err != nil {
		t.Fatal(err)
	}
	if !hasFieldError(b.Validate(context.Background()), ledger.ColDebit, "do not balance") {
		t.Fatal("cross-unit scratch should not validate yet")
	}

	// WHEN: Trading synthesis runs
	if err := b.ApplyTrading(); err != nil {
		t.Fatal(err)
	}

	// THEN: The scratch balances per unit
	if len(b.Scratch().Splits) != 4 {
		t.Fatalf("expected 4 legs after synthesis, got %d", len(b.Scratch().Splits))
	}
	if err := ledger.CheckBalance(b.Scratch().Splits); err != nil {
		t.Errorf("synthesized scratch does not balance: %v", err)
	}
}

// =============================================================================
// COMMIT
// =============================================================================

func TestCommitRejectsInvalidScratchAndKeepsTheBuffer(t *testing.T) {
	b, _ := newCheckingBuffer(t)
	if err := b.StartNew(); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ledger.ColDebit, "10"); err != nil {
		t.Fatal(err)
	}
	// Single unbalanced leg: validation must block the commit.
	_, err := b.Commit(context.Background())
	if !errors.Is(err, ledger.ErrValidationFailed) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if b.State() == ledger.EditIdle {
		t.Error("failed commit must keep the edit alive")
	}
}

func TestCommitWritesTransactionAndResets(t *testing.T) {
	b, m := newCheckingBuffer(t)
	if err := b.StartNew(); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ledger.ColTransfer, "salary"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ledger.ColDebit, "2500"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ledger.ColPayee, "acme"); err != nil {
		t.Fatal(err)
	}

	res, err := b.Commit(context.Background())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Txn == nil || res.Schedule != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if b.State() != ledger.EditIdle {
		t.Error("buffer not reset after successful commit")
	}

	stored, err := m.Transaction(context.Background(), res.Txn.ID)
	if err != nil {
		t.Fatalf("committed transaction not stored: %v", err)
	}
	own, _ := stored.SplitFor("checking")
	if !own.Amount.Equal(num("2500")) {
		t.Errorf("stored amount %s", own.Amount)
	}
}

func TestCommitOccurrenceEntersAndRecordsException(t *testing.T) {
	// GIVEN: A schedule and an occurrence edit from its template
	b, m := newCheckingBuffer(t)
	dues := scheduleWithThreeDues(t, m)
	sch, err := m.Schedule(context.Background(), "rent")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.StartOccurrence(0, sch, dues[0]); err != nil {
		t.Fatal(err)
	}
	if got := b.Scratch().Date; !got.Equal(dues[0]) {
		t.Errorf("scratch dated %s, want due date", got)
	}

	// WHEN: The occurrence commits (amount tweaked from the template)
	if err := b.Set(ledger.ColCredit, "720"); err != nil {
		t.Fatal(err)
	}
	res, err := b.Commit(context.Background())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	// THEN: The realized transaction is stored and the due date is an
	// entered exception
	if _, err := m.Transaction(context.Background(), res.Txn.ID); err != nil {
		t.Fatalf("realized transaction missing: %v", err)
	}
	after, err := m.Schedule(context.Background(), "rent")
	if err != nil {
		t.Fatal(err)
	}
	if !after.Entered.Contains(dues[0]) {
		t.Error("due date not recorded as entered")
	}
}

func TestCommitScheduleRewritesRecurrence(t *testing.T) {
	b, m := newCheckingBuffer(t)
	scheduleWithThreeDues(t, m)
	sch, err := m.Schedule(context.Background(), "rent")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.StartSchedule(0, sch); err != nil {
		t.Fatal(err)
	}
	if err := b.SetScheduleName("Rent (weekly)"); err != nil {
		t.Fatal(err)
	}
	if err := b.SetRecurrence(ledger.Recurrence{
		Start:     sch.Recurrence.Start,
		Frequency: ledger.FreqWeekly,
	}); err != nil {
		t.Fatal(err)
	}
	if err := b.SetAutoEnter(true); err != nil {
		t.Fatal(err)
	}

	res, err := b.Commit(context.Background())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Schedule == nil {
		t.Fatal("schedule commit reported no schedule")
	}

	after, err := m.Schedule(context.Background(), "rent")
	if err != nil {
		t.Fatal(err)
	}
	if after.Name != "Rent (weekly)" || after.Recurrence.Frequency != ledger.FreqWeekly || !after.AutoEnter {
		t.Errorf("schedule not rewritten: %+v", after)
	}
}

func TestStoreRejectionIsRetryableAndKeepsTheBuffer(t *testing.T) {
	// GIVEN: An occurrence edit whose schedule disappears mid-edit
	b, m := newCheckingBuffer(t)
	dues := scheduleWithThreeDues(t, m)
	sch, err := m.Schedule(context.Background(), "rent")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.StartOccurrence(0, sch, dues[0]); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveSchedule(context.Background(), "rent"); err != nil {
		t.Fatal(err)
	}

	// WHEN: The commit hits the store
	_, err = b.Commit(context.Background())

	// THEN: The rejection is retryable and the edit survives
	if !errors.Is(err, ledger.ErrStoreRejected) {
		t.Fatalf("expected store rejection, got %v", err)
	}
	if b.State() == ledger.EditIdle || b.Scratch() == nil {
		t.Fatal("buffer must stay populated for retry")
	}

	// AND: Restoring the schedule lets the same buffer commit
	if err := m.CommitSchedule(context.Background(), sch); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Commit(context.Background()); err != nil {
		t.Fatalf("retry after correction: %v", err)
	}
	if b.State() != ledger.EditIdle {
		t.Error("buffer not reset after successful retry")
	}
}

func TestBlankAmountEntryLeavesTheAmountAlone(t *testing.T) {
	// GIVEN: An edit with a concrete debit already entered
	b, _ := newCheckingBuffer(t)
	if err := b.StartNew(); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ledger.ColTransfer, "groceries"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ledger.ColDebit, "50"); err != nil {
		t.Fatal(err)
	}

	// WHEN: The empty opposite cell is written back, as a round trip over
	// the register's raw edit values does
	if err := b.Set(ledger.ColCredit, ""); err != nil {
		t.Fatal(err)
	}

	// THEN: The amount is untouched and validation stays clean
	own := b.Scratch().Splits[0]
	if !own.Amount.Equal(num("50")) {
		t.Errorf("blank entry changed the amount: %s", own.Amount)
	}
	if errs := b.Validate(context.Background()); len(errs) != 0 {
		t.Errorf("blank entry left validation errors: %v", errs)
	}
}
