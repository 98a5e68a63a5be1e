package services

import (
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"circulation/internal/models"
	"circulation/internal/repositories"
)

// Identity is the authenticated caller as resolved by the upstream auth
// collaborator: a user id and a role flag. Member profiles are looked up by
// user id when an operation needs one.
type Identity struct {
	UserID int64
	Role   models.Role
}

// IsAdmin reports whether the caller holds the admin role.
func (id Identity) IsAdmin() bool {
	return id.Role == models.RoleAdmin
}

// Config carries the circulation policy constants. Both are deliberate
// knobs rather than hard-coded values.
type Config struct {
	// LoanPeriodDays is the number of days a member may keep a book.
	LoanPeriodDays int

	// DailyFineRate is the fine charged per day overdue.
	DailyFineRate decimal.Decimal
}

// DefaultConfig returns the standard 14-day loan period at 1.00 per day.
func DefaultConfig() Config {
	return Config{
		LoanPeriodDays: 14,
		DailyFineRate:  decimal.NewFromInt(1),
	}
}

// TxManager begins a storage transaction and runs fn inside it; the whole
// step commits or rolls back together. *gorm.DB satisfies it directly.
type TxManager interface {
	Transaction(fn func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

// resolveMember finds the acting or target member for an operation. Admins
// act on behalf of an explicit target member; members always act for the
// member profile linked to their own user id.
func resolveMember(tx *gorm.DB, members repositories.MemberRepository, actor Identity, targetMemberID int64) (*models.Member, error) {
	if actor.IsAdmin() {
		if targetMemberID == 0 {
			return nil, ErrMemberIDRequired
		}
		member, err := members.GetByID(tx, targetMemberID)
		if err != nil {
			if notFound(err) {
				return nil, ErrMemberNotFound
			}
			return nil, err
		}
		return member, nil
	}
	member, err := members.GetByUserID(tx, actor.UserID)
	if err != nil {
		if notFound(err) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return member, nil
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
