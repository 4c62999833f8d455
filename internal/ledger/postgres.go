package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

//go:embed schema.sql
var schemaSQL string

const (
	transactionColumns = `id, buyer_id, seller_id, project_id, offer_id, gross_amount, platform_fee, seller_net,
		payment_method, status, escrow_release_date, review_period_days, delivery_notes, delivery_file_key,
		delivered_at, dispute_reason, completed_at, created_at, updated_at`
	entryColumns      = `id, seller_id, transaction_id, amount, status, available_at, parent_entry_id, withdrawal_id, created_at, updated_at`
	withdrawalColumns = `id, seller_id, amount, method_ref, status, rejection_reason, processed_at, created_at, updated_at`
	offerColumns      = `id, project_id, buyer_id, seller_id, amount, message, status, parent_offer_id, proposed_by, created_at, updated_at`
)

// PostgresStore implements Store on top of sqlx.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Atomic(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit tx: %w", mapError(err))
	}
	return nil
}

// mapError folds driver errors into the package sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		case "23514", "23503":
			return fmt.Errorf("%w: %s", ErrConstraint, pqErr.Constraint)
		}
	}
	return err
}

func (s *PostgresStore) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return mapError(s.db.GetContext(ctx, dest, query, args...))
}

func (s *PostgresStore) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return mapError(s.db.SelectContext(ctx, dest, query, args...))
}

func (s *PostgresStore) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	var p Project
	if err := s.get(ctx, &p, `SELECT id, seller_id, title, price, is_sold, updated_at FROM projects WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	var t Transaction
	if err := s.get(ctx, &t, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Transaction, error) {
	var items []*Transaction
	err := s.selectAll(ctx, &items, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return items, err
}

func (s *PostgresStore) ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.selectAll(ctx, &ids, `
		SELECT id
		FROM transactions
		WHERE status IN ('escrow_held', 'in_delivery', 'under_review')
		  AND escrow_release_date IS NOT NULL
		  AND escrow_release_date < $1
		  AND NOT EXISTS (
		      SELECT 1 FROM installments i
		      WHERE i.transaction_id = transactions.id AND i.status <> 'paid'
		  )
		ORDER BY escrow_release_date, id
		LIMIT $2
	`, now, limit)
	return ids, err
}

func (s *PostgresStore) ListStatusHistory(ctx context.Context, transactionID uuid.UUID) ([]*StatusChange, error) {
	var items []*StatusChange
	err := s.selectAll(ctx, &items, `
		SELECT id, transaction_id, from_status, to_status, actor_id, note, created_at
		FROM transaction_status_history
		WHERE transaction_id = $1
		ORDER BY created_at, id
	`, transactionID)
	return items, err
}

func (s *PostgresStore) GetEscrowHold(ctx context.Context, transactionID uuid.UUID) (*EscrowHold, error) {
	var h EscrowHold
	if err := s.get(ctx, &h, `
		SELECT transaction_id, amount, status, released_at, refunded_at, created_at
		FROM escrow_holds WHERE transaction_id = $1
	`, transactionID); err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *PostgresStore) ListInstallments(ctx context.Context, transactionID uuid.UUID) ([]*Installment, error) {
	var items []*Installment
	err := s.selectAll(ctx, &items, `
		SELECT id, transaction_id, sequence, amount, due_date, status, paid_at, created_at
		FROM installments WHERE transaction_id = $1 ORDER BY sequence
	`, transactionID)
	return items, err
}

func (s *PostgresStore) GetPlatformEarning(ctx context.Context, transactionID uuid.UUID) (*PlatformEarning, error) {
	var p PlatformEarning
	if err := s.get(ctx, &p, `
		SELECT id, transaction_id, amount, created_at FROM platform_earnings WHERE transaction_id = $1
	`, transactionID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ListEarningsEntries(ctx context.Context, sellerID uuid.UUID) ([]*EarningsEntry, error) {
	var items []*EarningsEntry
	err := s.selectAll(ctx, &items, `
		SELECT `+entryColumns+` FROM earnings_entries WHERE seller_id = $1 ORDER BY created_at, id
	`, sellerID)
	return items, err
}

func (s *PostgresStore) GetWithdrawal(ctx context.Context, id uuid.UUID) (*WithdrawalRequest, error) {
	var w WithdrawalRequest
	if err := s.get(ctx, &w, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PostgresStore) ListWithdrawals(ctx context.Context, sellerID uuid.UUID) ([]*WithdrawalRequest, error) {
	var items []*WithdrawalRequest
	err := s.selectAll(ctx, &items, `
		SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE seller_id = $1 ORDER BY created_at DESC, id
	`, sellerID)
	return items, err
}

func (s *PostgresStore) GetOffer(ctx context.Context, id uuid.UUID) (*Offer, error) {
	var o Offer
	if err := s.get(ctx, &o, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) LatestOffer(ctx context.Context, buyerID, projectID uuid.UUID) (*Offer, error) {
	var o Offer
	if err := s.get(ctx, &o, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE buyer_id = $1 AND project_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, buyerID, projectID); err != nil {
		return nil, err
	}
	return &o, nil
}

// pgTx is the Tx handed to Atomic callbacks.
type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return mapError(t.tx.GetContext(ctx, dest, query, args...))
}

func (t *pgTx) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return mapError(t.tx.SelectContext(ctx, dest, query, args...))
}

func (t *pgTx) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

// execOne runs an UPDATE that must touch exactly one row.
func (t *pgTx) execOne(ctx context.Context, query string, args ...interface{}) error {
	n, err := t.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) named(ctx context.Context, query string, arg interface{}) error {
	_, err := t.tx.NamedExecContext(ctx, query, arg)
	return mapError(err)
}

func (t *pgTx) LockProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	var p Project
	if err := t.get(ctx, &p, `
		SELECT id, seller_id, title, price, is_sold, updated_at FROM projects WHERE id = $1 FOR UPDATE
	`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) SetProjectSold(ctx context.Context, id uuid.UUID, sold bool) error {
	return t.execOne(ctx, `UPDATE projects SET is_sold = $2, updated_at = now() WHERE id = $1`, id, sold)
}

func (t *pgTx) LockTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	var tr Transaction
	if err := t.get(ctx, &tr, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *Transaction) error {
	return t.named(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (:id, :buyer_id, :seller_id, :project_id, :offer_id, :gross_amount, :platform_fee, :seller_net,
			:payment_method, :status, :escrow_release_date, :review_period_days, :delivery_notes, :delivery_file_key,
			:delivered_at, :dispute_reason, :completed_at, :created_at, :updated_at)
	`, tr)
}

func (t *pgTx) UpdateTransaction(ctx context.Context, tr *Transaction) error {
	return t.execOne(ctx, `
		UPDATE transactions
		SET status = $2, escrow_release_date = $3, delivery_notes = $4, delivery_file_key = $5,
			delivered_at = $6, dispute_reason = $7, completed_at = $8, updated_at = $9
		WHERE id = $1
	`, tr.ID, tr.Status, tr.EscrowReleaseDate, tr.DeliveryNotes, tr.DeliveryFileKey,
		tr.DeliveredAt, tr.DisputeReason, tr.CompletedAt, tr.UpdatedAt)
}

func (t *pgTx) AppendStatusChange(ctx context.Context, c *StatusChange) error {
	return t.named(ctx, `
		INSERT INTO transaction_status_history (id, transaction_id, from_status, to_status, actor_id, note, created_at)
		VALUES (:id, :transaction_id, :from_status, :to_status, :actor_id, :note, :created_at)
	`, c)
}

func (t *pgTx) InsertEscrowHold(ctx context.Context, h *EscrowHold) error {
	return t.named(ctx, `
		INSERT INTO escrow_holds (transaction_id, amount, status, released_at, refunded_at, created_at)
		VALUES (:transaction_id, :amount, :status, :released_at, :refunded_at, :created_at)
	`, h)
}

func (t *pgTx) GetEscrowHold(ctx context.Context, transactionID uuid.UUID) (*EscrowHold, error) {
	var h EscrowHold
	if err := t.get(ctx, &h, `
		SELECT transaction_id, amount, status, released_at, refunded_at, created_at
		FROM escrow_holds WHERE transaction_id = $1 FOR UPDATE
	`, transactionID); err != nil {
		return nil, err
	}
	return &h, nil
}

func (t *pgTx) UpdateEscrowHold(ctx context.Context, h *EscrowHold) error {
	return t.execOne(ctx, `
		UPDATE escrow_holds SET status = $2, released_at = $3, refunded_at = $4 WHERE transaction_id = $1
	`, h.TransactionID, h.Status, h.ReleasedAt, h.RefundedAt)
}

func (t *pgTx) InsertInstallments(ctx context.Context, items []*Installment) error {
	for _, i := range items {
		if err := t.named(ctx, `
			INSERT INTO installments (id, transaction_id, sequence, amount, due_date, status, paid_at, created_at)
			VALUES (:id, :transaction_id, :sequence, :amount, :due_date, :status, :paid_at, :created_at)
		`, i); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) ListInstallments(ctx context.Context, transactionID uuid.UUID) ([]*Installment, error) {
	var items []*Installment
	err := t.selectAll(ctx, &items, `
		SELECT id, transaction_id, sequence, amount, due_date, status, paid_at, created_at
		FROM installments WHERE transaction_id = $1 ORDER BY sequence FOR UPDATE
	`, transactionID)
	return items, err
}

func (t *pgTx) UpdateInstallment(ctx context.Context, i *Installment) error {
	return t.execOne(ctx, `UPDATE installments SET status = $2, paid_at = $3 WHERE id = $1`, i.ID, i.Status, i.PaidAt)
}

func (t *pgTx) MarkOverdueInstallments(ctx context.Context, now time.Time) (int64, error) {
	return t.exec(ctx, `UPDATE installments SET status = 'overdue' WHERE status = 'pending' AND due_date < $1`, now)
}

func (t *pgTx) InsertPlatformEarning(ctx context.Context, p *PlatformEarning) error {
	return t.named(ctx, `
		INSERT INTO platform_earnings (id, transaction_id, amount, created_at)
		VALUES (:id, :transaction_id, :amount, :created_at)
	`, p)
}

func (t *pgTx) LockSeller(ctx context.Context, sellerID uuid.UUID) error {
	_, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sellerID.String())
	return mapError(err)
}

func (t *pgTx) InsertEarningsEntry(ctx context.Context, e *EarningsEntry) error {
	return t.named(ctx, `
		INSERT INTO earnings_entries (`+entryColumns+`)
		VALUES (:id, :seller_id, :transaction_id, :amount, :status, :available_at, :parent_entry_id,
			:withdrawal_id, :created_at, :updated_at)
	`, e)
}

func (t *pgTx) UpdateEarningsEntry(ctx context.Context, e *EarningsEntry) error {
	return t.execOne(ctx, `
		UPDATE earnings_entries SET amount = $2, status = $3, withdrawal_id = $4, updated_at = $5 WHERE id = $1
	`, e.ID, e.Amount, e.Status, e.WithdrawalID, e.UpdatedAt)
}

func (t *pgTx) ListEntriesByStatus(ctx context.Context, sellerID uuid.UUID, status EntryStatus) ([]*EarningsEntry, error) {
	var items []*EarningsEntry
	err := t.selectAll(ctx, &items, `
		SELECT `+entryColumns+`
		FROM earnings_entries
		WHERE seller_id = $1 AND status = $2
		ORDER BY created_at, id
		FOR UPDATE
	`, sellerID, status)
	return items, err
}

func (t *pgTx) ListEntriesByWithdrawal(ctx context.Context, withdrawalID uuid.UUID) ([]*EarningsEntry, error) {
	var items []*EarningsEntry
	err := t.selectAll(ctx, &items, `
		SELECT `+entryColumns+` FROM earnings_entries WHERE withdrawal_id = $1 ORDER BY created_at, id FOR UPDATE
	`, withdrawalID)
	return items, err
}

func (t *pgTx) MatureEntries(ctx context.Context, sellerID uuid.UUID, now time.Time) (int64, error) {
	if sellerID == uuid.Nil {
		return t.exec(ctx, `
			UPDATE earnings_entries SET status = 'available', updated_at = $1
			WHERE status = 'pending' AND available_at <= $1
		`, now)
	}
	return t.exec(ctx, `
		UPDATE earnings_entries SET status = 'available', updated_at = $2
		WHERE seller_id = $1 AND status = 'pending' AND available_at <= $2
	`, sellerID, now)
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, w *WithdrawalRequest) error {
	return t.named(ctx, `
		INSERT INTO withdrawal_requests (`+withdrawalColumns+`)
		VALUES (:id, :seller_id, :amount, :method_ref, :status, :rejection_reason, :processed_at, :created_at, :updated_at)
	`, w)
}

func (t *pgTx) LockWithdrawal(ctx context.Context, id uuid.UUID) (*WithdrawalRequest, error) {
	var w WithdrawalRequest
	if err := t.get(ctx, &w, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &w, nil
}

func (t *pgTx) UpdateWithdrawal(ctx context.Context, w *WithdrawalRequest) error {
	return t.execOne(ctx, `
		UPDATE withdrawal_requests SET status = $2, rejection_reason = $3, processed_at = $4, updated_at = $5 WHERE id = $1
	`, w.ID, w.Status, w.RejectionReason, w.ProcessedAt, w.UpdatedAt)
}

func (t *pgTx) InsertOffer(ctx context.Context, o *Offer) error {
	return t.named(ctx, `
		INSERT INTO offers (`+offerColumns+`)
		VALUES (:id, :project_id, :buyer_id, :seller_id, :amount, :message, :status, :parent_offer_id,
			:proposed_by, :created_at, :updated_at)
	`, o)
}

func (t *pgTx) LockOffer(ctx context.Context, id uuid.UUID) (*Offer, error) {
	var o Offer
	if err := t.get(ctx, &o, `SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *pgTx) UpdateOffer(ctx context.Context, o *Offer) error {
	return t.execOne(ctx, `UPDATE offers SET status = $2, updated_at = $3 WHERE id = $1`, o.ID, o.Status, o.UpdatedAt)
}

func (t *pgTx) FindPendingOffer(ctx context.Context, buyerID, projectID uuid.UUID) (*Offer, error) {
	var o Offer
	if err := t.get(ctx, &o, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE buyer_id = $1 AND project_id = $2 AND status = 'pending'
		FOR UPDATE
	`, buyerID, projectID); err != nil {
		return nil, err
	}
	return &o, nil
}
