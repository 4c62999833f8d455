package ledger

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

// ErrUnknownStatus is returned when a status value outside its closed set
// crosses the storage boundary in either direction.
var ErrUnknownStatus = errors.New("unknown status value")

// TransactionStatus matches the transactions.status check constraint.
type TransactionStatus string

const (
	TransactionPendingPayment TransactionStatus = "pending_payment"
	TransactionEscrowHeld     TransactionStatus = "escrow_held"
	TransactionInDelivery     TransactionStatus = "in_delivery"
	TransactionUnderReview    TransactionStatus = "under_review"
	TransactionCompleted      TransactionStatus = "completed"
	TransactionDisputed       TransactionStatus = "disputed"
	TransactionRefunded       TransactionStatus = "refunded"
	TransactionCancelled      TransactionStatus = "cancelled"
)

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionPendingPayment: {TransactionEscrowHeld, TransactionCancelled},
	TransactionEscrowHeld:     {TransactionInDelivery, TransactionUnderReview, TransactionCompleted, TransactionDisputed},
	TransactionInDelivery:     {TransactionUnderReview, TransactionCompleted, TransactionDisputed},
	TransactionUnderReview:    {TransactionCompleted, TransactionDisputed},
	TransactionDisputed:       {TransactionRefunded},
	TransactionCompleted:      nil,
	TransactionRefunded:       nil,
	TransactionCancelled:      nil,
}

func (s TransactionStatus) Valid() bool {
	_, ok := transactionTransitions[s]
	return ok
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transactionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal is true once no further transition is possible.
func (s TransactionStatus) IsTerminal() bool {
	return s.Valid() && len(transactionTransitions[s]) == 0
}

// IsEscrowHeld covers escrow_held and its delivery/review sub-states.
func (s TransactionStatus) IsEscrowHeld() bool {
	return s == TransactionEscrowHeld || s == TransactionInDelivery || s == TransactionUnderReview
}

func (s *TransactionStatus) Scan(src interface{}) error {
	v, err := scanString(src)
	if err != nil {
		return err
	}
	status := TransactionStatus(v)
	if !status.Valid() {
		return fmt.Errorf("%w: transaction status %q", ErrUnknownStatus, v)
	}
	*s = status
	return nil
}

func (s TransactionStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: transaction status %q", ErrUnknownStatus, string(s))
	}
	return string(s), nil
}

// HoldStatus matches the escrow_holds.status check constraint.
type HoldStatus string

const (
	HoldHeld     HoldStatus = "held"
	HoldReleased HoldStatus = "released"
	HoldRefunded HoldStatus = "refunded"
)

func (s HoldStatus) Valid() bool {
	switch s {
	case HoldHeld, HoldReleased, HoldRefunded:
		return true
	}
	return false
}

func (s *HoldStatus) Scan(src interface{}) error {
	v, err := scanString(src)
	if err != nil {
		return err
	}
	if !HoldStatus(v).Valid() {
		return fmt.Errorf("%w: hold status %q", ErrUnknownStatus, v)
	}
	*s = HoldStatus(v)
	return nil
}

func (s HoldStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: hold status %q", ErrUnknownStatus, string(s))
	}
	return string(s), nil
}

// InstallmentStatus matches the installments.status check constraint.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
)

func (s InstallmentStatus) Valid() bool {
	switch s {
	case InstallmentPending, InstallmentPaid, InstallmentOverdue:
		return true
	}
	return false
}

func (s *InstallmentStatus) Scan(src interface{}) error {
	v, err := scanString(src)
	if err != nil {
		return err
	}
	if !InstallmentStatus(v).Valid() {
		return fmt.Errorf("%w: installment status %q", ErrUnknownStatus, v)
	}
	*s = InstallmentStatus(v)
	return nil
}

func (s InstallmentStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: installment status %q", ErrUnknownStatus, string(s))
	}
	return string(s), nil
}

// EntryStatus matches the earnings_entries.status check constraint.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryAvailable EntryStatus = "available"
	EntryWithdrawn EntryStatus = "withdrawn"
)

func (s EntryStatus) Valid() bool {
	switch s {
	case EntryPending, EntryAvailable, EntryWithdrawn:
		return true
	}
	return false
}

func (s *EntryStatus) Scan(src interface{}) error {
	v, err := scanString(src)
	if err != nil {
		return err
	}
	if !EntryStatus(v).Valid() {
		return fmt.Errorf("%w: earnings entry status %q", ErrUnknownStatus, v)
	}
	*s = EntryStatus(v)
	return nil
}

func (s EntryStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: earnings entry status %q", ErrUnknownStatus, string(s))
	}
	return string(s), nil
}

// WithdrawalStatus matches the withdrawal_requests.status check constraint.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalRejected   WithdrawalStatus = "rejected"
)

var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalPending:    {WithdrawalProcessing, WithdrawalRejected},
	WithdrawalProcessing: {WithdrawalCompleted},
	WithdrawalCompleted:  nil,
	WithdrawalRejected:   nil,
}

func (s WithdrawalStatus) Valid() bool {
	_, ok := withdrawalTransitions[s]
	return ok
}

func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	for _, allowed := range withdrawalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s *WithdrawalStatus) Scan(src interface{}) error {
	v, err := scanString(src)
	if err != nil {
		return err
	}
	if !WithdrawalStatus(v).Valid() {
		return fmt.Errorf("%w: withdrawal status %q", ErrUnknownStatus, v)
	}
	*s = WithdrawalStatus(v)
	return nil
}

func (s WithdrawalStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: withdrawal status %q", ErrUnknownStatus, string(s))
	}
	return string(s), nil
}

// OfferStatus matches the offers.status check constraint.
type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferCountered OfferStatus = "countered"
)

func (s OfferStatus) Valid() bool {
	switch s {
	case OfferPending, OfferAccepted, OfferRejected, OfferCountered:
		return true
	}
	return false
}

// IsTerminal is true for every status except pending; offers never leave a terminal status.
func (s OfferStatus) IsTerminal() bool {
	return s.Valid() && s != OfferPending
}

func (s *OfferStatus) Scan(src interface{}) error {
	v, err := scanString(src)
	if err != nil {
		return err
	}
	if !OfferStatus(v).Valid() {
		return fmt.Errorf("%w: offer status %q", ErrUnknownStatus, v)
	}
	*s = OfferStatus(v)
	return nil
}

func (s OfferStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: offer status %q", ErrUnknownStatus, string(s))
	}
	return string(s), nil
}

// Party identifies which side of a deal authored an offer.
type Party string

const (
	PartyBuyer  Party = "buyer"
	PartySeller Party = "seller"
)

func (p Party) Valid() bool {
	return p == PartyBuyer || p == PartySeller
}

// Other returns the counterparty.
func (p Party) Other() Party {
	if p == PartyBuyer {
		return PartySeller
	}
	return PartyBuyer
}

func (p *Party) Scan(src interface{}) error {
	v, err := scanString(src)
	if err != nil {
		return err
	}
	if !Party(v).Valid() {
		return fmt.Errorf("%w: party %q", ErrUnknownStatus, v)
	}
	*p = Party(v)
	return nil
}

func (p Party) Value() (driver.Value, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: party %q", ErrUnknownStatus, string(p))
	}
	return string(p), nil
}

func scanString(src interface{}) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("%w: NULL", ErrUnknownStatus)
	default:
		return "", fmt.Errorf("%w: unsupported type %T", ErrUnknownStatus, src)
	}
}
