package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleMember Role = "Member"
	RoleAdmin  Role = "Admin"
)

type FineStatus string

const (
	FineStatusOpen   FineStatus = "open"
	FineStatusPaid   FineStatus = "paid"
	FineStatusWaived FineStatus = "waived"
)

// Valid reports whether s is one of the known fine statuses.
func (s FineStatus) Valid() bool {
	switch s {
	case FineStatusOpen, FineStatusPaid, FineStatusWaived:
		return true
	}
	return false
}

type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "Pending"
	ReservationStatusReady     ReservationStatus = "Ready"
	ReservationStatusFulfilled ReservationStatus = "Fulfilled"
	ReservationStatusCancelled ReservationStatus = "Cancelled"
)

// Valid reports whether s is one of the known reservation statuses.
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationStatusPending, ReservationStatusReady, ReservationStatusFulfilled, ReservationStatusCancelled:
		return true
	}
	return false
}

// reservationTransitions is the explicit state machine for reservations.
// Fulfilled and Cancelled are terminal.
var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationStatusPending: {ReservationStatusReady, ReservationStatusFulfilled, ReservationStatusCancelled},
	ReservationStatusReady:   {ReservationStatusFulfilled, ReservationStatusCancelled},
}

// CanTransition reports whether a reservation may move from one status to another.
func CanTransition(from, to ReservationStatus) bool {
	for _, next := range reservationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrInvalidISBN is returned by NormalizeISBN for malformed input.
var ErrInvalidISBN = errors.New("invalid isbn")

// NormalizeISBN strips hyphens and spaces and validates that the remainder is
// a 10- or 13-digit string. The normalized form is what the catalog keys on.
func NormalizeISBN(raw string) (string, error) {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= '0' && c <= '9':
			out = append(out, c)
		case c == '-' || c == ' ':
			// separator, dropped
		default:
			return "", ErrInvalidISBN
		}
	}
	if len(out) != 10 && len(out) != 13 {
		return "", ErrInvalidISBN
	}
	return string(out), nil
}

type Book struct {
	ISBN            string `gorm:"primaryKey;size:13" json:"isbn"`
	Title           string `gorm:"size:255;not null" json:"title"`
	Author          string `gorm:"size:255" json:"author"`
	Category        string `gorm:"size:100" json:"category"`
	Description     string `json:"description"`
	CopiesAvailable int    `gorm:"not null;default:0;check:copies_available >= 0" json:"copies_available"`
	TotalCopies     int    `gorm:"not null;default:1;check:total_copies >= copies_available" json:"total_copies"`
}

type Member struct {
	MemberID int64  `gorm:"primaryKey;autoIncrement" json:"member_id"`
	UserID   int64  `gorm:"uniqueIndex;not null" json:"user_id"`
	Name     string `gorm:"size:255" json:"name"`
	Address  string `gorm:"size:255" json:"address"`
}

type Loan struct {
	LoanID     int64      `gorm:"primaryKey;autoIncrement" json:"loan_id"`
	ISBN       string     `gorm:"size:13;not null;index" json:"isbn"`
	Book       Book       `gorm:"foreignKey:ISBN;references:ISBN;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	MemberID   int64      `gorm:"not null;index" json:"member_id"`
	Member     Member     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	BorrowDate time.Time  `gorm:"not null" json:"borrow_date"`
	DueDate    time.Time  `gorm:"not null" json:"due_date"`
	ReturnDate *time.Time `json:"return_date"`
}

type Fine struct {
	FineID          int64           `gorm:"primaryKey;autoIncrement" json:"fine_id"`
	LoanID          int64           `gorm:"uniqueIndex;not null" json:"loan_id"`
	Loan            Loan            `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	MemberID        int64           `gorm:"not null;index" json:"member_id"`
	OriginalAmount  decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"original_amount"`
	RemainingAmount decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"remaining_amount"`
	FineDate        time.Time       `gorm:"not null;index" json:"fine_date"`
	Reason          string          `gorm:"size:255" json:"reason"`
	PaymentStatus   FineStatus      `gorm:"size:16;not null;index" json:"payment_status"`
}

type Reservation struct {
	ReservationID   int64             `gorm:"primaryKey;autoIncrement" json:"reservation_id"`
	ISBN            string            `gorm:"size:13;not null;index" json:"isbn"`
	Book            Book              `gorm:"foreignKey:ISBN;references:ISBN;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	MemberID        int64             `gorm:"not null;index" json:"member_id"`
	Member          Member            `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	ReservationDate time.Time         `gorm:"not null" json:"reservation_date"`
	Status          ReservationStatus `gorm:"size:16;not null;index" json:"status"`
}

// Payment is an append-only audit record of one payment operation, together
// with how it was split across fines. Rows are never updated after creation.
type Payment struct {
	PaymentID   uuid.UUID           `gorm:"type:uuid;primaryKey" json:"payment_id"`
	MemberID    int64               `gorm:"not null;index" json:"member_id"`
	PayerID     int64               `gorm:"not null" json:"payer_id"`
	Amount      decimal.Decimal     `gorm:"type:numeric(12,2);not null" json:"amount"`
	AppliedAt   time.Time           `gorm:"not null" json:"applied_at"`
	Allocations []PaymentAllocation `gorm:"foreignKey:PaymentID" json:"allocations"`
}

type PaymentAllocation struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"-"`
	PaymentID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"-"`
	Ordinal         int             `gorm:"not null" json:"-"`
	FineID          int64           `gorm:"not null;index" json:"fine_id"`
	Applied         decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"applied"`
	RemainingBefore decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"remaining_before"`
	RemainingAfter  decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"remaining_after"`
}
