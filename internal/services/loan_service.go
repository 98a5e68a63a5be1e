package services

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"circulation/internal/models"
	"circulation/internal/repositories"
)

// LoanService drives borrowing and returning. It is the sole writer of the
// inventory counters.
type LoanService interface {
	// Borrow claims one copy of the book for the target member. Admins must
	// name the member; members borrow for themselves and targetMemberID is
	// ignored.
	Borrow(ctx context.Context, actor Identity, isbn string, targetMemberID int64) (*models.Loan, error)

	// Return closes the loan, releases the copy and creates an overdue fine
	// when applicable. The fine result is nil for on-time returns.
	Return(ctx context.Context, actor Identity, loanID int64) (*models.Loan, *models.Fine, error)

	// Extend pushes the due date forward by the given number of days. Admin only.
	Extend(ctx context.Context, loanID int64, days int) (*models.Loan, error)

	ListMemberLoans(ctx context.Context, actor Identity) ([]models.Loan, error)
	ListAllLoans(ctx context.Context) ([]models.Loan, error)
}

type loanService struct {
	db         TxManager
	cfg        Config
	memberRepo repositories.MemberRepository
	bookRepo   repositories.BookRepository
	loanRepo   repositories.LoanRepository
	fineRepo   repositories.FineRepository
	resRepo    repositories.ReservationRepository
	tracer     trace.Tracer
}

// NewLoanService wires up the loan manager.
func NewLoanService(
	db TxManager,
	cfg Config,
	memberRepo repositories.MemberRepository,
	bookRepo repositories.BookRepository,
	loanRepo repositories.LoanRepository,
	fineRepo repositories.FineRepository,
	resRepo repositories.ReservationRepository,
) LoanService {
	return &loanService{
		db:         db,
		cfg:        cfg,
		memberRepo: memberRepo,
		bookRepo:   bookRepo,
		loanRepo:   loanRepo,
		fineRepo:   fineRepo,
		resRepo:    resRepo,
		tracer:     otel.Tracer("circulation/loans"),
	}
}

// Borrow implements the transactional borrow flow.
//
// The copy is claimed by a single conditional decrement ("decrement where
// copies_available > 0"), so two concurrent borrows of the last copy cannot
// both succeed; the loser observes zero rows affected and gets ErrOutOfStock.
// Loan creation and reservation auto-fulfillment ride in the same transaction.
func (s *loanService) Borrow(ctx context.Context, actor Identity, isbn string, targetMemberID int64) (*models.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "loans.borrow",
		trace.WithAttributes(attribute.String("book.isbn", isbn)),
	)
	defer span.End()
	_ = ctx

	normalized, err := models.NormalizeISBN(isbn)
	if err != nil {
		return nil, err
	}

	var loan *models.Loan

	err = s.db.Transaction(func(tx *gorm.DB) error {
		member, err := resolveMember(tx, s.memberRepo, actor, targetMemberID)
		if err != nil {
			return err
		}

		if _, err := s.bookRepo.GetByISBN(tx, normalized); err != nil {
			if notFound(err) {
				return ErrBookNotFound
			}
			return err
		}

		claimed, err := s.bookRepo.DecrementAvailable(tx, normalized)
		if err != nil {
			return err
		}
		if !claimed {
			log.Printf("[INFO] Borrow: no copies of %s left for member %d", normalized, member.MemberID)
			return ErrOutOfStock
		}

		now := time.Now().UTC()
		loan = &models.Loan{
			ISBN:       normalized,
			MemberID:   member.MemberID,
			BorrowDate: now,
			DueDate:    now.AddDate(0, 0, s.cfg.LoanPeriodDays),
		}
		if err := s.loanRepo.Create(tx, loan); err != nil {
			log.Printf("[ERROR] Borrow: failed to create loan for member %d / isbn %s: %v", member.MemberID, normalized, err)
			return err
		}

		// A borrow of the same book satisfies any pending hold.
		if err := s.resRepo.FulfillPending(tx, member.MemberID, normalized); err != nil {
			log.Printf("[ERROR] Borrow: failed to fulfill pending reservations for member %d / isbn %s: %v", member.MemberID, normalized, err)
			return err
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int64("loan.id", loan.LoanID))
	log.Printf("[INFO] Borrow: loan %d created for member %d / isbn %s, due %s",
		loan.LoanID, loan.MemberID, loan.ISBN, loan.DueDate.Format("2006-01-02"))
	return loan, nil
}

// Return implements the transactional return flow.
//
// Double returns are guarded twice: the row lock plus ReturnDate check catch
// the common case, and MarkReturned's "return_date IS NULL" predicate makes
// the loser of a true race fail cleanly. Fine creation is insert-or-fetch
// against the unique index on loan_id, so a re-return never duplicates a fine.
func (s *loanService) Return(ctx context.Context, actor Identity, loanID int64) (*models.Loan, *models.Fine, error) {
	ctx, span := s.tracer.Start(ctx, "loans.return",
		trace.WithAttributes(attribute.Int64("loan.id", loanID)),
	)
	defer span.End()
	_ = ctx

	var (
		loan *models.Loan
		fine *models.Fine
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		loan, err = s.loanRepo.GetByIDForUpdate(tx, loanID)
		if err != nil {
			if notFound(err) {
				return ErrLoanNotFound
			}
			return err
		}

		if !actor.IsAdmin() {
			member, err := s.memberRepo.GetByUserID(tx, actor.UserID)
			if err != nil {
				if notFound(err) {
					return ErrMemberNotFound
				}
				return err
			}
			if loan.MemberID != member.MemberID {
				return ErrForbidden
			}
		}

		if loan.ReturnDate != nil {
			log.Printf("[WARN] Return: loan %d already returned at %s", loanID, loan.ReturnDate)
			return ErrAlreadyReturned
		}

		now := time.Now().UTC()
		closed, err := s.loanRepo.MarkReturned(tx, loanID, now)
		if err != nil {
			return err
		}
		if !closed {
			return ErrAlreadyReturned
		}
		loan.ReturnDate = &now

		if err := s.bookRepo.IncrementAvailable(tx, loan.ISBN); err != nil {
			log.Printf("[ERROR] Return: failed to release copy of %s: %v", loan.ISBN, err)
			return err
		}

		late := daysLate(loan.DueDate, now)
		if late > 0 {
			amount := s.cfg.DailyFineRate.Mul(decimal.NewFromInt(int64(late))).Round(2)
			fine, err = s.fineRepo.CreateOrGetByLoan(tx, &models.Fine{
				LoanID:          loan.LoanID,
				MemberID:        loan.MemberID,
				OriginalAmount:  amount,
				RemainingAmount: amount,
				FineDate:        now,
				Reason:          "overdue",
				PaymentStatus:   models.FineStatusOpen,
			})
			if err != nil {
				log.Printf("[ERROR] Return: failed to create fine for loan %d: %v", loanID, err)
				return err
			}
			log.Printf("[INFO] Return: loan %d returned %d day(s) late, fine %d for %s", loanID, late, fine.FineID, amount)
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	log.Printf("[INFO] Return: loan %d closed for member %d / isbn %s", loan.LoanID, loan.MemberID, loan.ISBN)
	return loan, fine, nil
}

func (s *loanService) Extend(ctx context.Context, loanID int64, days int) (*models.Loan, error) {
	var loan *models.Loan

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		loan, err = s.loanRepo.GetByIDForUpdate(tx, loanID)
		if err != nil {
			if notFound(err) {
				return ErrLoanNotFound
			}
			return err
		}

		newDue := loan.DueDate.AddDate(0, 0, days)
		if err := s.loanRepo.ExtendDueDate(tx, loanID, newDue); err != nil {
			return err
		}
		loan.DueDate = newDue
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] Extend: loan %d due date pushed to %s", loanID, loan.DueDate.Format("2006-01-02"))
	return loan, nil
}

func (s *loanService) ListMemberLoans(ctx context.Context, actor Identity) ([]models.Loan, error) {
	member, err := resolveMemberSelf(s.memberRepo, actor)
	if err != nil {
		return nil, err
	}
	return s.loanRepo.ListByMember(nil, member.MemberID)
}

func (s *loanService) ListAllLoans(ctx context.Context) ([]models.Loan, error) {
	return s.loanRepo.List(nil)
}

// resolveMemberSelf looks up the caller's own member profile outside a transaction.
func resolveMemberSelf(members repositories.MemberRepository, actor Identity) (*models.Member, error) {
	member, err := members.GetByUserID(nil, actor.UserID)
	if err != nil {
		if notFound(err) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return member, nil
}

// daysLate computes max(0, ceil((returned - due) / 1 day)). A return even an
// hour past the due date counts as one late day.
func daysLate(due, returned time.Time) int {
	if !returned.After(due) {
		return 0
	}
	return int(math.Ceil(returned.Sub(due).Hours() / 24))
}
