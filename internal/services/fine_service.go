package services

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"circulation/internal/models"
	"circulation/internal/repositories"
)

// PayBulkResult is the outcome of a bulk payment: the member's fines after
// allocation, the allocation breakdown, and whatever could not be applied.
type PayBulkResult struct {
	Fines       []models.Fine              `json:"fines"`
	Allocations []models.PaymentAllocation `json:"allocations"`
	Leftover    decimal.Decimal            `json:"leftover"`
}

// FineService is the fine ledger: it applies payments, administrative
// write-downs and status overrides, and records every payment in the
// append-only audit trail. remaining_amount never increases and never goes
// negative, and payment_status is recomputed whenever the amount changes.
type FineService interface {
	// PaySingle applies a payment to one fine. A nil amount pays the full
	// remaining balance. Returns the updated fine and the amount actually
	// applied, which is capped at the remaining balance.
	PaySingle(ctx context.Context, actor Identity, fineID int64, amount *decimal.Decimal) (*models.Fine, decimal.Decimal, error)

	// PayBulk allocates one payment across the member's open fines,
	// oldest-first by fine date with fine id as the tie-break. Admins pass
	// the target member; members pay their own fines.
	PayBulk(ctx context.Context, actor Identity, targetMemberID int64, amount decimal.Decimal) (*PayBulkResult, error)

	// Reduce is the administrative write-down. Reaching zero marks the fine
	// waived, not paid, since no payment is recorded; unless it was already paid.
	Reduce(ctx context.Context, fineID int64, amount decimal.Decimal) (*models.Fine, error)

	// SetStatus is the administrative escape hatch. Setting paid zeroes the
	// remaining amount so paid <=> remaining == 0 keeps holding.
	SetStatus(ctx context.Context, fineID int64, status models.FineStatus) (*models.Fine, error)

	// CreateManual lets an admin add a fine for an existing loan owned by
	// the member.
	CreateManual(ctx context.Context, memberID, loanID int64, amount decimal.Decimal, reason string) (*models.Fine, error)

	ListMemberFines(ctx context.Context, actor Identity) ([]models.Fine, error)
	ListAllFines(ctx context.Context) ([]models.Fine, error)

	// ListMemberPayments returns the caller's payment history, newest first,
	// with allocations in application order.
	ListMemberPayments(ctx context.Context, actor Identity) ([]models.Payment, error)
}

type fineService struct {
	db          TxManager
	memberRepo  repositories.MemberRepository
	loanRepo    repositories.LoanRepository
	fineRepo    repositories.FineRepository
	paymentRepo repositories.PaymentRepository
	tracer      trace.Tracer
}

// NewFineService wires up the fine ledger.
func NewFineService(
	db TxManager,
	memberRepo repositories.MemberRepository,
	loanRepo repositories.LoanRepository,
	fineRepo repositories.FineRepository,
	paymentRepo repositories.PaymentRepository,
) FineService {
	return &fineService{
		db:          db,
		memberRepo:  memberRepo,
		loanRepo:    loanRepo,
		fineRepo:    fineRepo,
		paymentRepo: paymentRepo,
		tracer:      otel.Tracer("circulation/fines"),
	}
}

func (s *fineService) PaySingle(ctx context.Context, actor Identity, fineID int64, amount *decimal.Decimal) (*models.Fine, decimal.Decimal, error) {
	var (
		fine    *models.Fine
		applied decimal.Decimal
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		fine, err = s.fineRepo.GetByIDForUpdate(tx, fineID)
		if err != nil {
			if notFound(err) {
				return ErrFineNotFound
			}
			return err
		}

		if err := s.checkFineOwnership(tx, actor, fine); err != nil {
			return err
		}

		remaining := fine.RemainingAmount
		pay := remaining
		if amount != nil {
			// Sub-cent input is rounded up front so the audit rows match
			// what the numeric(12,2) columns actually store.
			pay = amount.Round(2)
			if pay.IsNegative() {
				pay = decimal.Zero
			}
		}
		applied = decimal.Min(remaining, pay)
		next := remaining.Sub(applied).Round(2)

		status := models.FineStatusOpen
		if next.LessThanOrEqual(decimal.Zero) {
			next = decimal.Zero
			status = models.FineStatusPaid
		}

		if err := s.fineRepo.UpdateRemaining(tx, fineID, next, status); err != nil {
			return err
		}

		payment := &models.Payment{
			PaymentID: uuid.New(),
			MemberID:  fine.MemberID,
			PayerID:   actor.UserID,
			Amount:    applied,
			AppliedAt: time.Now().UTC(),
			Allocations: []models.PaymentAllocation{{
				Ordinal:         0,
				FineID:          fineID,
				Applied:         applied,
				RemainingBefore: remaining,
				RemainingAfter:  next,
			}},
		}
		if err := s.paymentRepo.Create(tx, payment); err != nil {
			log.Printf("[ERROR] PaySingle: failed to record payment for fine %d: %v", fineID, err)
			return err
		}

		fine.RemainingAmount = next
		fine.PaymentStatus = status
		return nil
	})
	if err != nil {
		return nil, decimal.Zero, err
	}

	log.Printf("[INFO] PaySingle: applied %s to fine %d, remaining %s (%s)", applied, fineID, fine.RemainingAmount, fine.PaymentStatus)
	return fine, applied, nil
}

// PayBulk walks the member's open fines oldest-first and clears them until
// the amount runs out. Each fine update is the same read-modify-write used by
// PaySingle, against the row's then-current remaining balance under lock.
// One payment row records the full allocation list.
func (s *fineService) PayBulk(ctx context.Context, actor Identity, targetMemberID int64, amount decimal.Decimal) (*PayBulkResult, error) {
	ctx, span := s.tracer.Start(ctx, "fines.pay_bulk",
		trace.WithAttributes(attribute.String("payment.amount", amount.String())),
	)
	defer span.End()
	_ = ctx

	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	amount = amount.Round(2)

	result := &PayBulkResult{Leftover: amount}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		member, err := resolveMember(tx, s.memberRepo, actor, targetMemberID)
		if err != nil {
			return err
		}

		fines, err := s.fineRepo.ListOpenByMemberForUpdate(tx, member.MemberID)
		if err != nil {
			return err
		}

		left := amount
		for i := range fines {
			if !left.IsPositive() {
				break
			}
			remaining := fines[i].RemainingAmount
			if !remaining.IsPositive() {
				continue
			}

			apply := decimal.Min(remaining, left)
			next := remaining.Sub(apply).Round(2)
			status := models.FineStatusOpen
			if next.LessThanOrEqual(decimal.Zero) {
				next = decimal.Zero
				status = models.FineStatusPaid
			}

			if err := s.fineRepo.UpdateRemaining(tx, fines[i].FineID, next, status); err != nil {
				return err
			}

			result.Allocations = append(result.Allocations, models.PaymentAllocation{
				Ordinal:         len(result.Allocations),
				FineID:          fines[i].FineID,
				Applied:         apply,
				RemainingBefore: remaining,
				RemainingAfter:  next,
			})

			fines[i].RemainingAmount = next
			fines[i].PaymentStatus = status
			left = left.Sub(apply).Round(2)
		}

		payment := &models.Payment{
			PaymentID:   uuid.New(),
			MemberID:    member.MemberID,
			PayerID:     actor.UserID,
			Amount:      amount.Sub(left).Round(2),
			AppliedAt:   time.Now().UTC(),
			Allocations: result.Allocations,
		}
		if err := s.paymentRepo.Create(tx, payment); err != nil {
			log.Printf("[ERROR] PayBulk: failed to record payment for member %d: %v", member.MemberID, err)
			return err
		}

		result.Fines = fines
		result.Leftover = left
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("allocations", len(result.Allocations)),
		attribute.String("leftover", result.Leftover.String()),
	)
	log.Printf("[INFO] PayBulk: %d allocation(s), leftover %s", len(result.Allocations), result.Leftover)
	return result, nil
}

func (s *fineService) Reduce(ctx context.Context, fineID int64, amount decimal.Decimal) (*models.Fine, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	var fine *models.Fine

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		fine, err = s.fineRepo.GetByIDForUpdate(tx, fineID)
		if err != nil {
			if notFound(err) {
				return ErrFineNotFound
			}
			return err
		}

		next := fine.RemainingAmount.Sub(amount).Round(2)
		if next.IsNegative() {
			next = decimal.Zero
		}

		status := fine.PaymentStatus
		if next.IsZero() && status != models.FineStatusPaid {
			status = models.FineStatusWaived
		}

		if err := s.fineRepo.UpdateRemaining(tx, fineID, next, status); err != nil {
			return err
		}
		fine.RemainingAmount = next
		fine.PaymentStatus = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] Reduce: fine %d written down by %s, remaining %s (%s)", fineID, amount, fine.RemainingAmount, fine.PaymentStatus)
	return fine, nil
}

func (s *fineService) SetStatus(ctx context.Context, fineID int64, status models.FineStatus) (*models.Fine, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	var fine *models.Fine

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		fine, err = s.fineRepo.GetByIDForUpdate(tx, fineID)
		if err != nil {
			if notFound(err) {
				return ErrFineNotFound
			}
			return err
		}

		if status == models.FineStatusPaid {
			if err := s.fineRepo.UpdateRemaining(tx, fineID, decimal.Zero, status); err != nil {
				return err
			}
			fine.RemainingAmount = decimal.Zero
		} else {
			if err := s.fineRepo.UpdateStatus(tx, fineID, status); err != nil {
				return err
			}
		}
		fine.PaymentStatus = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] SetStatus: fine %d overridden to %s", fineID, status)
	return fine, nil
}

func (s *fineService) CreateManual(ctx context.Context, memberID, loanID int64, amount decimal.Decimal, reason string) (*models.Fine, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if reason == "" {
		reason = "overdue"
	}

	var fine *models.Fine

	err := s.db.Transaction(func(tx *gorm.DB) error {
		member, err := s.memberRepo.GetByID(tx, memberID)
		if err != nil {
			if notFound(err) {
				return ErrMemberNotFound
			}
			return err
		}

		loan, err := s.loanRepo.GetByID(tx, loanID)
		if err != nil {
			if notFound(err) {
				return ErrLoanNotFound
			}
			return err
		}
		if loan.MemberID != member.MemberID {
			return ErrForbidden
		}

		rounded := amount.Round(2)
		fine = &models.Fine{
			LoanID:          loanID,
			MemberID:        memberID,
			OriginalAmount:  rounded,
			RemainingAmount: rounded,
			FineDate:        time.Now().UTC(),
			Reason:          reason,
			PaymentStatus:   models.FineStatusOpen,
		}
		if err := s.fineRepo.Create(tx, fine); err != nil {
			if repositories.IsUniqueViolation(err) {
				return ErrDuplicateFine
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] CreateManual: fine %d (%s) added for member %d / loan %d", fine.FineID, fine.OriginalAmount, memberID, loanID)
	return fine, nil
}

func (s *fineService) ListMemberFines(ctx context.Context, actor Identity) ([]models.Fine, error) {
	member, err := resolveMemberSelf(s.memberRepo, actor)
	if err != nil {
		return nil, err
	}
	return s.fineRepo.ListByMember(nil, member.MemberID)
}

func (s *fineService) ListAllFines(ctx context.Context) ([]models.Fine, error) {
	return s.fineRepo.List(nil)
}

func (s *fineService) ListMemberPayments(ctx context.Context, actor Identity) ([]models.Payment, error) {
	member, err := resolveMemberSelf(s.memberRepo, actor)
	if err != nil {
		return nil, err
	}
	return s.paymentRepo.ListByMember(nil, member.MemberID)
}

// checkFineOwnership rejects non-admin actors touching fines they do not own.
func (s *fineService) checkFineOwnership(tx *gorm.DB, actor Identity, fine *models.Fine) error {
	if actor.IsAdmin() {
		return nil
	}
	member, err := s.memberRepo.GetByUserID(tx, actor.UserID)
	if err != nil {
		if notFound(err) {
			return ErrMemberNotFound
		}
		return err
	}
	if fine.MemberID != member.MemberID {
		return ErrForbidden
	}
	return nil
}
