package repositories

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"circulation/internal/models"
)

type MemberRepository interface {
	Create(db *gorm.DB, member *models.Member) error
	GetByID(db *gorm.DB, memberID int64) (*models.Member, error)
	GetByUserID(db *gorm.DB, userID int64) (*models.Member, error)
	List(db *gorm.DB) ([]models.Member, error)
}

type BookRepository interface {
	Create(db *gorm.DB, book *models.Book) error
	GetByISBN(db *gorm.DB, isbn string) (*models.Book, error)
	Update(db *gorm.DB, book *models.Book) error
	Delete(db *gorm.DB, isbn string) error
	List(db *gorm.DB) ([]models.Book, error)

	// DecrementAvailable performs the atomic conditional decrement that all
	// inventory consumers (borrow and reservation fulfillment) go through.
	// It reports false when no copy was available to claim.
	DecrementAvailable(db *gorm.DB, isbn string) (bool, error)

	// IncrementAvailable releases one copy back, capped at total_copies.
	IncrementAvailable(db *gorm.DB, isbn string) error
}

type LoanRepository interface {
	Create(db *gorm.DB, loan *models.Loan) error
	GetByID(db *gorm.DB, loanID int64) (*models.Loan, error)
	GetByIDForUpdate(db *gorm.DB, loanID int64) (*models.Loan, error)

	// MarkReturned sets return_date guarded by "return_date IS NULL" in the
	// same statement, so concurrent double-returns lose cleanly. Reports
	// false when the guard matched no row.
	MarkReturned(db *gorm.DB, loanID int64, returnedAt time.Time) (bool, error)

	ExtendDueDate(db *gorm.DB, loanID int64, newDue time.Time) error
	ListByMember(db *gorm.DB, memberID int64) ([]models.Loan, error)
	List(db *gorm.DB) ([]models.Loan, error)
}

type FineRepository interface {
	// CreateOrGetByLoan inserts the fine, or fetches the existing one when the
	// unique index on loan_id rejects the insert (idempotent re-return guard).
	CreateOrGetByLoan(db *gorm.DB, fine *models.Fine) (*models.Fine, error)

	Create(db *gorm.DB, fine *models.Fine) error
	GetByID(db *gorm.DB, fineID int64) (*models.Fine, error)
	GetByIDForUpdate(db *gorm.DB, fineID int64) (*models.Fine, error)
	ListOpenByMemberForUpdate(db *gorm.DB, memberID int64) ([]models.Fine, error)
	UpdateRemaining(db *gorm.DB, fineID int64, remaining decimal.Decimal, status models.FineStatus) error
	UpdateStatus(db *gorm.DB, fineID int64, status models.FineStatus) error
	ListByMember(db *gorm.DB, memberID int64) ([]models.Fine, error)
	List(db *gorm.DB) ([]models.Fine, error)
}

type ReservationRepository interface {
	Create(db *gorm.DB, reservation *models.Reservation) error
	GetByIDForUpdate(db *gorm.DB, reservationID int64) (*models.Reservation, error)
	GetActiveByMemberAndISBN(db *gorm.DB, memberID int64, isbn string) (*models.Reservation, error)
	UpdateStatus(db *gorm.DB, reservationID int64, status models.ReservationStatus) error

	// FulfillPending flips this member's Pending reservations for the ISBN to
	// Fulfilled; a borrow of the same book satisfies the hold.
	FulfillPending(db *gorm.DB, memberID int64, isbn string) error

	ListByMember(db *gorm.DB, memberID int64) ([]models.Reservation, error)
	List(db *gorm.DB) ([]models.Reservation, error)
}

type PaymentRepository interface {
	Create(db *gorm.DB, payment *models.Payment) error
	ListByMember(db *gorm.DB, memberID int64) ([]models.Payment, error)
}

// IsUniqueViolation checks whether a PostgreSQL unique-constraint error occurred.
// PostgreSQL error code 23505 = unique_violation.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}

// concrete implementations

type memberRepository struct {
	db *gorm.DB
}

func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{db: db}
}

func (r *memberRepository) Create(db *gorm.DB, member *models.Member) error {
	if db == nil {
		db = r.db
	}
	return db.Create(member).Error
}

func (r *memberRepository) GetByID(db *gorm.DB, memberID int64) (*models.Member, error) {
	if db == nil {
		db = r.db
	}
	var member models.Member
	if err := db.First(&member, "member_id = ?", memberID).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *memberRepository) GetByUserID(db *gorm.DB, userID int64) (*models.Member, error) {
	if db == nil {
		db = r.db
	}
	var member models.Member
	if err := db.First(&member, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *memberRepository) List(db *gorm.DB) ([]models.Member, error) {
	if db == nil {
		db = r.db
	}
	var members []models.Member
	if err := db.Order("member_id").Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

type bookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(db *gorm.DB, book *models.Book) error {
	if db == nil {
		db = r.db
	}
	return db.Create(book).Error
}

func (r *bookRepository) GetByISBN(db *gorm.DB, isbn string) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	if err := db.First(&book, "isbn = ?", isbn).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) Update(db *gorm.DB, book *models.Book) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Book{}).
		Where("isbn = ?", book.ISBN).
		Updates(map[string]interface{}{
			"title":            book.Title,
			"author":           book.Author,
			"category":         book.Category,
			"description":      book.Description,
			"copies_available": book.CopiesAvailable,
			"total_copies":     book.TotalCopies,
		}).Error
}

func (r *bookRepository) Delete(db *gorm.DB, isbn string) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.Book{}, "isbn = ?", isbn).Error
}

func (r *bookRepository) List(db *gorm.DB) ([]models.Book, error) {
	if db == nil {
		db = r.db
	}
	var books []models.Book
	if err := db.Order("title").Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

func (r *bookRepository) DecrementAvailable(db *gorm.DB, isbn string) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Book{}).
		Where("isbn = ? AND copies_available > 0", isbn).
		UpdateColumn("copies_available", gorm.Expr("copies_available - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *bookRepository) IncrementAvailable(db *gorm.DB, isbn string) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Book{}).
		Where("isbn = ?", isbn).
		UpdateColumn("copies_available", gorm.Expr("LEAST(copies_available + 1, total_copies)")).
		Error
}

type loanRepository struct {
	db *gorm.DB
}

func NewLoanRepository(db *gorm.DB) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) Create(db *gorm.DB, loan *models.Loan) error {
	if db == nil {
		db = r.db
	}
	return db.Create(loan).Error
}

func (r *loanRepository) GetByID(db *gorm.DB, loanID int64) (*models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loan models.Loan
	if err := db.First(&loan, "loan_id = ?", loanID).Error; err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepository) GetByIDForUpdate(db *gorm.DB, loanID int64) (*models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loan models.Loan
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&loan, "loan_id = ?", loanID).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepository) MarkReturned(db *gorm.DB, loanID int64, returnedAt time.Time) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Loan{}).
		Where("loan_id = ? AND return_date IS NULL", loanID).
		Update("return_date", returnedAt)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *loanRepository) ExtendDueDate(db *gorm.DB, loanID int64, newDue time.Time) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Loan{}).
		Where("loan_id = ?", loanID).
		Update("due_date", newDue).
		Error
}

func (r *loanRepository) ListByMember(db *gorm.DB, memberID int64) ([]models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loans []models.Loan
	if err := db.Where("member_id = ?", memberID).Order("borrow_date DESC").Find(&loans).Error; err != nil {
		return nil, err
	}
	return loans, nil
}

func (r *loanRepository) List(db *gorm.DB) ([]models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loans []models.Loan
	if err := db.Order("borrow_date DESC").Find(&loans).Error; err != nil {
		return nil, err
	}
	return loans, nil
}

type fineRepository struct {
	db *gorm.DB
}

func NewFineRepository(db *gorm.DB) FineRepository {
	return &fineRepository{db: db}
}

func (r *fineRepository) CreateOrGetByLoan(db *gorm.DB, fine *models.Fine) (*models.Fine, error) {
	if db == nil {
		db = r.db
	}
	if err := db.Create(fine).Error; err != nil {
		if !IsUniqueViolation(err) {
			return nil, err
		}
		var existing models.Fine
		if err := db.First(&existing, "loan_id = ?", fine.LoanID).Error; err != nil {
			return nil, err
		}
		return &existing, nil
	}
	return fine, nil
}

func (r *fineRepository) Create(db *gorm.DB, fine *models.Fine) error {
	if db == nil {
		db = r.db
	}
	return db.Create(fine).Error
}

func (r *fineRepository) GetByID(db *gorm.DB, fineID int64) (*models.Fine, error) {
	if db == nil {
		db = r.db
	}
	var fine models.Fine
	if err := db.First(&fine, "fine_id = ?", fineID).Error; err != nil {
		return nil, err
	}
	return &fine, nil
}

func (r *fineRepository) GetByIDForUpdate(db *gorm.DB, fineID int64) (*models.Fine, error) {
	if db == nil {
		db = r.db
	}
	var fine models.Fine
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&fine, "fine_id = ?", fineID).Error
	if err != nil {
		return nil, err
	}
	return &fine, nil
}

// ListOpenByMemberForUpdate returns the member's open fines oldest-first with
// a deterministic tie-break, locked for the duration of the transaction so a
// bulk payment allocates against current balances.
func (r *fineRepository) ListOpenByMemberForUpdate(db *gorm.DB, memberID int64) ([]models.Fine, error) {
	if db == nil {
		db = r.db
	}
	var fines []models.Fine
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("member_id = ? AND payment_status = ?", memberID, models.FineStatusOpen).
		Order("fine_date ASC, fine_id ASC").
		Find(&fines).Error
	if err != nil {
		return nil, err
	}
	return fines, nil
}

func (r *fineRepository) UpdateRemaining(db *gorm.DB, fineID int64, remaining decimal.Decimal, status models.FineStatus) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Fine{}).
		Where("fine_id = ?", fineID).
		Updates(map[string]interface{}{
			"remaining_amount": remaining,
			"payment_status":   status,
		}).Error
}

func (r *fineRepository) UpdateStatus(db *gorm.DB, fineID int64, status models.FineStatus) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Fine{}).
		Where("fine_id = ?", fineID).
		Update("payment_status", status).
		Error
}

func (r *fineRepository) ListByMember(db *gorm.DB, memberID int64) ([]models.Fine, error) {
	if db == nil {
		db = r.db
	}
	var fines []models.Fine
	if err := db.Where("member_id = ?", memberID).Order("fine_date DESC").Find(&fines).Error; err != nil {
		return nil, err
	}
	return fines, nil
}

func (r *fineRepository) List(db *gorm.DB) ([]models.Fine, error) {
	if db == nil {
		db = r.db
	}
	var fines []models.Fine
	if err := db.Order("fine_date DESC").Find(&fines).Error; err != nil {
		return nil, err
	}
	return fines, nil
}

type reservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) ReservationRepository {
	return &reservationRepository{db: db}
}

func (r *reservationRepository) Create(db *gorm.DB, reservation *models.Reservation) error {
	if db == nil {
		db = r.db
	}
	return db.Create(reservation).Error
}

func (r *reservationRepository) GetByIDForUpdate(db *gorm.DB, reservationID int64) (*models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var res models.Reservation
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&res, "reservation_id = ?", reservationID).Error
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepository) GetActiveByMemberAndISBN(db *gorm.DB, memberID int64, isbn string) (*models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var res models.Reservation
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("member_id = ? AND isbn = ? AND status IN ?", memberID, isbn,
			[]models.ReservationStatus{models.ReservationStatusPending, models.ReservationStatusReady}).
		First(&res).Error
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepository) UpdateStatus(db *gorm.DB, reservationID int64, status models.ReservationStatus) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Reservation{}).
		Where("reservation_id = ?", reservationID).
		Update("status", status).
		Error
}

func (r *reservationRepository) FulfillPending(db *gorm.DB, memberID int64, isbn string) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Reservation{}).
		Where("member_id = ? AND isbn = ? AND status = ?", memberID, isbn, models.ReservationStatusPending).
		Update("status", models.ReservationStatusFulfilled).
		Error
}

func (r *reservationRepository) ListByMember(db *gorm.DB, memberID int64) ([]models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var reservations []models.Reservation
	if err := db.Where("member_id = ?", memberID).Order("reservation_date DESC").Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *reservationRepository) List(db *gorm.DB) ([]models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var reservations []models.Reservation
	if err := db.Order("reservation_date DESC").Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(db *gorm.DB, payment *models.Payment) error {
	if db == nil {
		db = r.db
	}
	return db.Create(payment).Error
}

func (r *paymentRepository) ListByMember(db *gorm.DB, memberID int64) ([]models.Payment, error) {
	if db == nil {
		db = r.db
	}
	var payments []models.Payment
	err := db.
		Preload("Allocations", func(db *gorm.DB) *gorm.DB { return db.Order("ordinal ASC") }).
		Where("member_id = ?", memberID).
		Order("applied_at DESC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
