package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. A single lock serialises units of
// work; a failed unit restores the snapshot taken when it started.
// Reader methods must not be called from inside an Atomic callback.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	projects     map[uuid.UUID]Project
	transactions map[uuid.UUID]Transaction
	history      map[uuid.UUID][]StatusChange
	holds        map[uuid.UUID]EscrowHold
	installments map[uuid.UUID]Installment
	platform     map[uuid.UUID]PlatformEarning
	entries      map[uuid.UUID]EarningsEntry
	withdrawals  map[uuid.UUID]WithdrawalRequest
	offers       map[uuid.UUID]Offer
}

func newMemState() *memState {
	return &memState{
		projects:     make(map[uuid.UUID]Project),
		transactions: make(map[uuid.UUID]Transaction),
		history:      make(map[uuid.UUID][]StatusChange),
		holds:        make(map[uuid.UUID]EscrowHold),
		installments: make(map[uuid.UUID]Installment),
		platform:     make(map[uuid.UUID]PlatformEarning),
		entries:      make(map[uuid.UUID]EarningsEntry),
		withdrawals:  make(map[uuid.UUID]WithdrawalRequest),
		offers:       make(map[uuid.UUID]Offer),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memState) clone() *memState {
	history := make(map[uuid.UUID][]StatusChange, len(s.history))
	for k, v := range s.history {
		history[k] = append([]StatusChange(nil), v...)
	}
	return &memState{
		projects:     cloneMap(s.projects),
		transactions: cloneMap(s.transactions),
		history:      history,
		holds:        cloneMap(s.holds),
		installments: cloneMap(s.installments),
		platform:     cloneMap(s.platform),
		entries:      cloneMap(s.entries),
		withdrawals:  cloneMap(s.withdrawals),
		offers:       cloneMap(s.offers),
	}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// PutProject inserts or replaces a catalog project.
func (s *MemoryStore) PutProject(p Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.projects[p.ID] = p
}

func (s *MemoryStore) Atomic(ctx context.Context, fn func(tx Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	defer func() {
		if p := recover(); p != nil {
			s.state = snapshot
			panic(p)
		}
		if err != nil {
			s.state = snapshot
		}
	}()

	return fn(&memTx{st: s.state})
}

func (s *MemoryStore) GetProject(_ context.Context, id uuid.UUID) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id uuid.UUID) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.state.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStore) ListTransactionsByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []*Transaction
	for _, t := range s.state.transactions {
		if t.BuyerID == userID || t.SellerID == userID {
			t := t
			items = append(items, &t)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	return page(items, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (s *MemoryStore) ListAutoReleasable(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []Transaction
	for _, t := range s.state.transactions {
		if t.IsAutoReleasable(now) && s.state.installmentsPaid(t.ID) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].EscrowReleaseDate.Time, due[j].EscrowReleaseDate.Time
		if !a.Equal(b) {
			return a.Before(b)
		}
		return due[i].ID.String() < due[j].ID.String()
	})
	due = page(due, limit, 0)

	ids := make([]uuid.UUID, 0, len(due))
	for _, t := range due {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func (s *MemoryStore) ListStatusHistory(_ context.Context, transactionID uuid.UUID) ([]*StatusChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.state.history[transactionID]
	items := make([]*StatusChange, 0, len(rows))
	for i := range rows {
		c := rows[i]
		items = append(items, &c)
	}
	return items, nil
}

func (s *MemoryStore) GetEscrowHold(_ context.Context, transactionID uuid.UUID) (*EscrowHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.escrowHold(transactionID)
}

func (s *MemoryStore) ListInstallments(_ context.Context, transactionID uuid.UUID) ([]*Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.installmentsOf(transactionID), nil
}

func (s *MemoryStore) GetPlatformEarning(_ context.Context, transactionID uuid.UUID) (*PlatformEarning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.state.platform {
		if p.TransactionID == transactionID {
			p := p
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListEarningsEntries(_ context.Context, sellerID uuid.UUID) ([]*EarningsEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.entriesWhere(func(e EarningsEntry) bool { return e.SellerID == sellerID }), nil
}

func (s *MemoryStore) GetWithdrawal(_ context.Context, id uuid.UUID) (*WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.state.withdrawals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (s *MemoryStore) ListWithdrawals(_ context.Context, sellerID uuid.UUID) ([]*WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []*WithdrawalRequest
	for _, w := range s.state.withdrawals {
		if w.SellerID == sellerID {
			w := w
			items = append(items, &w)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	return items, nil
}

func (s *MemoryStore) GetOffer(_ context.Context, id uuid.UUID) (*Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.state.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (s *MemoryStore) LatestOffer(_ context.Context, buyerID, projectID uuid.UUID) (*Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Offer
	for _, o := range s.state.offers {
		if o.BuyerID != buyerID || o.ProjectID != projectID {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) ||
			(o.CreatedAt.Equal(latest.CreatedAt) && o.ID.String() > latest.ID.String()) {
			o := o
			latest = &o
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (s *memState) escrowHold(transactionID uuid.UUID) (*EscrowHold, error) {
	h, ok := s.holds[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &h, nil
}

func (s *memState) installmentsOf(transactionID uuid.UUID) []*Installment {
	var items []*Installment
	for _, i := range s.installments {
		if i.TransactionID == transactionID {
			i := i
			items = append(items, &i)
		}
	}
	sort.Slice(items, func(a, b int) bool { return items[a].Sequence < items[b].Sequence })
	return items
}

func (s *memState) installmentsPaid(transactionID uuid.UUID) bool {
	for _, i := range s.installments {
		if i.TransactionID == transactionID && i.Status != InstallmentPaid {
			return false
		}
	}
	return true
}

func (s *memState) entriesWhere(match func(EarningsEntry) bool) []*EarningsEntry {
	var items []*EarningsEntry
	for _, e := range s.entries {
		if match(e) {
			e := e
			items = append(items, &e)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	return items
}

// memTx mutates the live state; MemoryStore.Atomic owns the rollback.
type memTx struct {
	st *memState
}

func (t *memTx) LockProject(_ context.Context, id uuid.UUID) (*Project, error) {
	p, ok := t.st.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memTx) SetProjectSold(_ context.Context, id uuid.UUID, sold bool) error {
	p, ok := t.st.projects[id]
	if !ok {
		return ErrNotFound
	}
	p.IsSold = sold
	p.UpdatedAt = time.Now().UTC()
	t.st.projects[id] = p
	return nil
}

func (t *memTx) LockTransaction(_ context.Context, id uuid.UUID) (*Transaction, error) {
	tr, ok := t.st.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tr, nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr *Transaction) error {
	if _, ok := t.st.transactions[tr.ID]; ok {
		return fmt.Errorf("%w: transactions_pkey", ErrDuplicate)
	}
	if !tr.SellerNet.Add(tr.PlatformFee).Equal(tr.GrossAmount) || !tr.GrossAmount.IsPositive() {
		return fmt.Errorf("%w: transactions_fee_split", ErrConstraint)
	}
	for _, other := range t.st.transactions {
		if other.ProjectID == tr.ProjectID && other.Status != TransactionCancelled && other.Status != TransactionRefunded {
			return fmt.Errorf("%w: transactions_one_open_per_project", ErrDuplicate)
		}
	}
	t.st.transactions[tr.ID] = *tr
	return nil
}

func (t *memTx) UpdateTransaction(_ context.Context, tr *Transaction) error {
	if _, ok := t.st.transactions[tr.ID]; !ok {
		return ErrNotFound
	}
	t.st.transactions[tr.ID] = *tr
	return nil
}

func (t *memTx) AppendStatusChange(_ context.Context, c *StatusChange) error {
	if _, ok := t.st.transactions[c.TransactionID]; !ok {
		return fmt.Errorf("%w: transaction_status_history_transaction_id_fkey", ErrConstraint)
	}
	t.st.history[c.TransactionID] = append(t.st.history[c.TransactionID], *c)
	return nil
}

func (t *memTx) InsertEscrowHold(_ context.Context, h *EscrowHold) error {
	if _, ok := t.st.holds[h.TransactionID]; ok {
		return fmt.Errorf("%w: escrow_holds_pkey", ErrDuplicate)
	}
	if !h.Amount.IsPositive() {
		return fmt.Errorf("%w: escrow_holds_amount_check", ErrConstraint)
	}
	t.st.holds[h.TransactionID] = *h
	return nil
}

func (t *memTx) GetEscrowHold(_ context.Context, transactionID uuid.UUID) (*EscrowHold, error) {
	return t.st.escrowHold(transactionID)
}

func (t *memTx) UpdateEscrowHold(_ context.Context, h *EscrowHold) error {
	if _, ok := t.st.holds[h.TransactionID]; !ok {
		return ErrNotFound
	}
	t.st.holds[h.TransactionID] = *h
	return nil
}

func (t *memTx) InsertInstallments(_ context.Context, items []*Installment) error {
	for _, i := range items {
		if _, ok := t.st.installments[i.ID]; ok {
			return fmt.Errorf("%w: installments_pkey", ErrDuplicate)
		}
		if !i.Amount.IsPositive() {
			return fmt.Errorf("%w: installments_amount_check", ErrConstraint)
		}
		t.st.installments[i.ID] = *i
	}
	return nil
}

func (t *memTx) ListInstallments(_ context.Context, transactionID uuid.UUID) ([]*Installment, error) {
	return t.st.installmentsOf(transactionID), nil
}

func (t *memTx) UpdateInstallment(_ context.Context, i *Installment) error {
	if _, ok := t.st.installments[i.ID]; !ok {
		return ErrNotFound
	}
	t.st.installments[i.ID] = *i
	return nil
}

func (t *memTx) MarkOverdueInstallments(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, i := range t.st.installments {
		if i.Status == InstallmentPending && i.DueDate.Before(now) {
			i.Status = InstallmentOverdue
			t.st.installments[id] = i
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertPlatformEarning(_ context.Context, p *PlatformEarning) error {
	for _, existing := range t.st.platform {
		if existing.TransactionID == p.TransactionID {
			return fmt.Errorf("%w: platform_earnings_transaction_id_key", ErrDuplicate)
		}
	}
	t.st.platform[p.ID] = *p
	return nil
}

// LockSeller is a no-op: the store-wide lock already serialises units.
func (t *memTx) LockSeller(context.Context, uuid.UUID) error {
	return nil
}

func (t *memTx) InsertEarningsEntry(_ context.Context, e *EarningsEntry) error {
	if _, ok := t.st.entries[e.ID]; ok {
		return fmt.Errorf("%w: earnings_entries_pkey", ErrDuplicate)
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("%w: earnings_entries_amount_check", ErrConstraint)
	}
	if !e.ParentEntryID.Valid {
		for _, existing := range t.st.entries {
			if existing.TransactionID == e.TransactionID && !existing.ParentEntryID.Valid {
				return fmt.Errorf("%w: earnings_entries_one_per_transaction", ErrDuplicate)
			}
		}
	}
	t.st.entries[e.ID] = *e
	return nil
}

func (t *memTx) UpdateEarningsEntry(_ context.Context, e *EarningsEntry) error {
	if _, ok := t.st.entries[e.ID]; !ok {
		return ErrNotFound
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("%w: earnings_entries_amount_check", ErrConstraint)
	}
	t.st.entries[e.ID] = *e
	return nil
}

func (t *memTx) ListEntriesByStatus(_ context.Context, sellerID uuid.UUID, status EntryStatus) ([]*EarningsEntry, error) {
	return t.st.entriesWhere(func(e EarningsEntry) bool {
		return e.SellerID == sellerID && e.Status == status
	}), nil
}

func (t *memTx) ListEntriesByWithdrawal(_ context.Context, withdrawalID uuid.UUID) ([]*EarningsEntry, error) {
	return t.st.entriesWhere(func(e EarningsEntry) bool {
		return e.WithdrawalID.Valid && e.WithdrawalID.UUID == withdrawalID
	}), nil
}

func (t *memTx) MatureEntries(_ context.Context, sellerID uuid.UUID, now time.Time) (int64, error) {
	var n int64
	for id, e := range t.st.entries {
		if sellerID != uuid.Nil && e.SellerID != sellerID {
			continue
		}
		if e.Status == EntryPending && !e.AvailableAt.After(now) {
			e.Status = EntryAvailable
			e.UpdatedAt = now
			t.st.entries[id] = e
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertWithdrawal(_ context.Context, w *WithdrawalRequest) error {
	if _, ok := t.st.withdrawals[w.ID]; ok {
		return fmt.Errorf("%w: withdrawal_requests_pkey", ErrDuplicate)
	}
	if !w.Amount.IsPositive() {
		return fmt.Errorf("%w: withdrawal_requests_amount_check", ErrConstraint)
	}
	t.st.withdrawals[w.ID] = *w
	return nil
}

func (t *memTx) LockWithdrawal(_ context.Context, id uuid.UUID) (*WithdrawalRequest, error) {
	w, ok := t.st.withdrawals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (t *memTx) UpdateWithdrawal(_ context.Context, w *WithdrawalRequest) error {
	if _, ok := t.st.withdrawals[w.ID]; !ok {
		return ErrNotFound
	}
	t.st.withdrawals[w.ID] = *w
	return nil
}

func (t *memTx) InsertOffer(_ context.Context, o *Offer) error {
	if _, ok := t.st.offers[o.ID]; ok {
		return fmt.Errorf("%w: offers_pkey", ErrDuplicate)
	}
	if o.Status == OfferPending {
		for _, existing := range t.st.offers {
			if existing.BuyerID == o.BuyerID && existing.ProjectID == o.ProjectID && existing.Status == OfferPending {
				return fmt.Errorf("%w: offers_one_pending_per_pair", ErrDuplicate)
			}
		}
	}
	t.st.offers[o.ID] = *o
	return nil
}

func (t *memTx) LockOffer(_ context.Context, id uuid.UUID) (*Offer, error) {
	o, ok := t.st.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (t *memTx) UpdateOffer(_ context.Context, o *Offer) error {
	if _, ok := t.st.offers[o.ID]; !ok {
		return ErrNotFound
	}
	t.st.offers[o.ID] = *o
	return nil
}

func (t *memTx) FindPendingOffer(_ context.Context, buyerID, projectID uuid.UUID) (*Offer, error) {
	for _, o := range t.st.offers {
		if o.BuyerID == buyerID && o.ProjectID == projectID && o.Status == OfferPending {
			o := o
			return &o, nil
		}
	}
	return nil, ErrNotFound
}
