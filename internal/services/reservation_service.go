package services

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"circulation/internal/models"
	"circulation/internal/repositories"
)

// ReservationService manages holds and their state machine. Fulfilling a
// reservation consumes inventory through the same conditional decrement as a
// borrow; the status write and the loan creation commit or roll back together.
type ReservationService interface {
	Reserve(ctx context.Context, actor Identity, isbn string) (*models.Reservation, error)

	// Cancel moves the reservation to Cancelled. Members cancel only their
	// own; cancelling an already-cancelled reservation is a no-op.
	Cancel(ctx context.Context, actor Identity, reservationID int64) (*models.Reservation, error)

	// SetStatus is the admin transition path. Moving to Fulfilled claims a
	// copy and creates a loan; with no copy available the whole step fails
	// with ErrOutOfStock and the status stays untouched.
	SetStatus(ctx context.Context, reservationID int64, status models.ReservationStatus) (*models.Reservation, error)

	ListMemberReservations(ctx context.Context, actor Identity) ([]models.Reservation, error)
	ListAllReservations(ctx context.Context) ([]models.Reservation, error)
}

type reservationService struct {
	db         TxManager
	cfg        Config
	memberRepo repositories.MemberRepository
	bookRepo   repositories.BookRepository
	loanRepo   repositories.LoanRepository
	resRepo    repositories.ReservationRepository
	tracer     trace.Tracer
}

// NewReservationService wires up the reservation coordinator.
func NewReservationService(
	db TxManager,
	cfg Config,
	memberRepo repositories.MemberRepository,
	bookRepo repositories.BookRepository,
	loanRepo repositories.LoanRepository,
	resRepo repositories.ReservationRepository,
) ReservationService {
	return &reservationService{
		db:         db,
		cfg:        cfg,
		memberRepo: memberRepo,
		bookRepo:   bookRepo,
		loanRepo:   loanRepo,
		resRepo:    resRepo,
		tracer:     otel.Tracer("circulation/reservations"),
	}
}

func (s *reservationService) Reserve(ctx context.Context, actor Identity, isbn string) (*models.Reservation, error) {
	normalized, err := models.NormalizeISBN(isbn)
	if err != nil {
		return nil, err
	}

	var reservation *models.Reservation

	err = s.db.Transaction(func(tx *gorm.DB) error {
		member, err := s.memberRepo.GetByUserID(tx, actor.UserID)
		if err != nil {
			if notFound(err) {
				return ErrMemberNotFound
			}
			return err
		}

		if _, err := s.bookRepo.GetByISBN(tx, normalized); err != nil {
			if notFound(err) {
				return ErrBookNotFound
			}
			return err
		}

		// At most one Pending/Ready reservation per (member, isbn). The
		// active row, if any, is locked so a concurrent reserve serializes
		// behind this check.
		existing, err := s.resRepo.GetActiveByMemberAndISBN(tx, member.MemberID, normalized)
		if err != nil && !notFound(err) {
			return err
		}
		if existing != nil {
			log.Printf("[WARN] Reserve: member %d already holds reservation %d for %s", member.MemberID, existing.ReservationID, normalized)
			return ErrDuplicateReservation
		}

		reservation = &models.Reservation{
			ISBN:            normalized,
			MemberID:        member.MemberID,
			ReservationDate: time.Now().UTC(),
			Status:          models.ReservationStatusPending,
		}
		return s.resRepo.Create(tx, reservation)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] Reserve: reservation %d created for member %d / isbn %s", reservation.ReservationID, reservation.MemberID, reservation.ISBN)
	return reservation, nil
}

func (s *reservationService) Cancel(ctx context.Context, actor Identity, reservationID int64) (*models.Reservation, error) {
	var reservation *models.Reservation

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		reservation, err = s.resRepo.GetByIDForUpdate(tx, reservationID)
		if err != nil {
			if notFound(err) {
				return ErrReservationNotFound
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
			if reservation.MemberID != member.MemberID {
				return ErrForbidden
			}
		}

		if reservation.Status == models.ReservationStatusCancelled {
			return nil
		}
		if !models.CanTransition(reservation.Status, models.ReservationStatusCancelled) {
			return ErrInvalidTransition
		}

		if err := s.resRepo.UpdateStatus(tx, reservationID, models.ReservationStatusCancelled); err != nil {
			return err
		}
		reservation.Status = models.ReservationStatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] Cancel: reservation %d cancelled", reservationID)
	return reservation, nil
}

func (s *reservationService) SetStatus(ctx context.Context, reservationID int64, status models.ReservationStatus) (*models.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "reservations.set_status",
		trace.WithAttributes(
			attribute.Int64("reservation.id", reservationID),
			attribute.String("reservation.status", string(status)),
		),
	)
	defer span.End()
	_ = ctx

	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	var reservation *models.Reservation

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		reservation, err = s.resRepo.GetByIDForUpdate(tx, reservationID)
		if err != nil {
			if notFound(err) {
				return ErrReservationNotFound
			}
			return err
		}

		if !models.CanTransition(reservation.Status, status) {
			return ErrInvalidTransition
		}

		if status == models.ReservationStatusFulfilled {
			// Same claim path as a borrow. On ErrOutOfStock the transaction
			// rolls back and the reservation keeps its current status.
			claimed, err := s.bookRepo.DecrementAvailable(tx, reservation.ISBN)
			if err != nil {
				return err
			}
			if !claimed {
				log.Printf("[INFO] SetStatus: no copies of %s to fulfill reservation %d", reservation.ISBN, reservationID)
				return ErrOutOfStock
			}

			now := time.Now().UTC()
			loan := &models.Loan{
				ISBN:       reservation.ISBN,
				MemberID:   reservation.MemberID,
				BorrowDate: now,
				DueDate:    now.AddDate(0, 0, s.cfg.LoanPeriodDays),
			}
			if err := s.loanRepo.Create(tx, loan); err != nil {
				log.Printf("[ERROR] SetStatus: failed to create loan fulfilling reservation %d: %v", reservationID, err)
				return err
			}
		}

		if err := s.resRepo.UpdateStatus(tx, reservationID, status); err != nil {
			return err
		}
		reservation.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] SetStatus: reservation %d moved to %s", reservationID, status)
	return reservation, nil
}

func (s *reservationService) ListMemberReservations(ctx context.Context, actor Identity) ([]models.Reservation, error) {
	member, err := resolveMemberSelf(s.memberRepo, actor)
	if err != nil {
		return nil, err
	}
	return s.resRepo.ListByMember(nil, member.MemberID)
}

func (s *reservationService) ListAllReservations(ctx context.Context) ([]models.Reservation, error) {
	return s.resRepo.List(nil)
}
