package services

import (
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"circulation/internal/models"
)

// The service layer is tested against in-memory repositories. fakeDB
// serializes "transactions" with a mutex, which mirrors the row-lock
// serialization the real store provides, and the fake book repository
// implements the same check-and-decrement semantics as the SQL guard.

type memStore struct {
	books        map[string]*models.Book
	members      map[int64]*models.Member
	loans        map[int64]*models.Loan
	fines        map[int64]*models.Fine
	reservations map[int64]*models.Reservation
	payments     []*models.Payment

	nextMemberID      int64
	nextLoanID        int64
	nextFineID        int64
	nextReservationID int64
}

func newMemStore() *memStore {
	return &memStore{
		books:        make(map[string]*models.Book),
		members:      make(map[int64]*models.Member),
		loans:        make(map[int64]*models.Loan),
		fines:        make(map[int64]*models.Fine),
		reservations: make(map[int64]*models.Reservation),
	}
}

type fakeDB struct {
	mu sync.Mutex
}

func (f *fakeDB) Transaction(fn func(tx *gorm.DB) error, opts ...*sql.TxOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(nil)
}

type fakeMemberRepo struct{ store *memStore }

func (r *fakeMemberRepo) Create(_ *gorm.DB, member *models.Member) error {
	r.store.nextMemberID++
	member.MemberID = r.store.nextMemberID
	cp := *member
	r.store.members[member.MemberID] = &cp
	return nil
}

func (r *fakeMemberRepo) GetByID(_ *gorm.DB, memberID int64) (*models.Member, error) {
	m, ok := r.store.members[memberID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *fakeMemberRepo) GetByUserID(_ *gorm.DB, userID int64) (*models.Member, error) {
	for _, m := range r.store.members {
		if m.UserID == userID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeMemberRepo) List(_ *gorm.DB) ([]models.Member, error) {
	out := make([]models.Member, 0, len(r.store.members))
	for _, m := range r.store.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

type fakeBookRepo struct{ store *memStore }

func (r *fakeBookRepo) Create(_ *gorm.DB, book *models.Book) error {
	cp := *book
	r.store.books[book.ISBN] = &cp
	return nil
}

func (r *fakeBookRepo) GetByISBN(_ *gorm.DB, isbn string) (*models.Book, error) {
	b, ok := r.store.books[isbn]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *fakeBookRepo) Update(_ *gorm.DB, book *models.Book) error {
	cp := *book
	r.store.books[book.ISBN] = &cp
	return nil
}

func (r *fakeBookRepo) Delete(_ *gorm.DB, isbn string) error {
	delete(r.store.books, isbn)
	return nil
}

func (r *fakeBookRepo) List(_ *gorm.DB) ([]models.Book, error) {
	out := make([]models.Book, 0, len(r.store.books))
	for _, b := range r.store.books {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (r *fakeBookRepo) DecrementAvailable(_ *gorm.DB, isbn string) (bool, error) {
	b, ok := r.store.books[isbn]
	if !ok || b.CopiesAvailable <= 0 {
		return false, nil
	}
	b.CopiesAvailable--
	return true, nil
}

func (r *fakeBookRepo) IncrementAvailable(_ *gorm.DB, isbn string) error {
	b, ok := r.store.books[isbn]
	if !ok {
		return nil
	}
	if b.CopiesAvailable < b.TotalCopies {
		b.CopiesAvailable++
	}
	return nil
}

type fakeLoanRepo struct{ store *memStore }

func (r *fakeLoanRepo) Create(_ *gorm.DB, loan *models.Loan) error {
	r.store.nextLoanID++
	loan.LoanID = r.store.nextLoanID
	cp := *loan
	r.store.loans[loan.LoanID] = &cp
	return nil
}

func (r *fakeLoanRepo) GetByID(_ *gorm.DB, loanID int64) (*models.Loan, error) {
	l, ok := r.store.loans[loanID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *fakeLoanRepo) GetByIDForUpdate(db *gorm.DB, loanID int64) (*models.Loan, error) {
	return r.GetByID(db, loanID)
}

func (r *fakeLoanRepo) MarkReturned(_ *gorm.DB, loanID int64, returnedAt time.Time) (bool, error) {
	l, ok := r.store.loans[loanID]
	if !ok || l.ReturnDate != nil {
		return false, nil
	}
	t := returnedAt
	l.ReturnDate = &t
	return true, nil
}

func (r *fakeLoanRepo) ExtendDueDate(_ *gorm.DB, loanID int64, newDue time.Time) error {
	l, ok := r.store.loans[loanID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	l.DueDate = newDue
	return nil
}

func (r *fakeLoanRepo) ListByMember(_ *gorm.DB, memberID int64) ([]models.Loan, error) {
	var out []models.Loan
	for _, l := range r.store.loans {
		if l.MemberID == memberID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoanID < out[j].LoanID })
	return out, nil
}

func (r *fakeLoanRepo) List(_ *gorm.DB) ([]models.Loan, error) {
	var out []models.Loan
	for _, l := range r.store.loans {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoanID < out[j].LoanID })
	return out, nil
}

type fakeFineRepo struct{ store *memStore }

func (r *fakeFineRepo) CreateOrGetByLoan(db *gorm.DB, fine *models.Fine) (*models.Fine, error) {
	for _, f := range r.store.fines {
		if f.LoanID == fine.LoanID {
			cp := *f
			return &cp, nil
		}
	}
	if err := r.Create(db, fine); err != nil {
		return nil, err
	}
	cp := *fine
	return &cp, nil
}

func (r *fakeFineRepo) Create(_ *gorm.DB, fine *models.Fine) error {
	r.store.nextFineID++
	fine.FineID = r.store.nextFineID
	cp := *fine
	r.store.fines[fine.FineID] = &cp
	return nil
}

func (r *fakeFineRepo) GetByID(_ *gorm.DB, fineID int64) (*models.Fine, error) {
	f, ok := r.store.fines[fineID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *fakeFineRepo) GetByIDForUpdate(db *gorm.DB, fineID int64) (*models.Fine, error) {
	return r.GetByID(db, fineID)
}

func (r *fakeFineRepo) ListOpenByMemberForUpdate(_ *gorm.DB, memberID int64) ([]models.Fine, error) {
	var out []models.Fine
	for _, f := range r.store.fines {
		if f.MemberID == memberID && f.PaymentStatus == models.FineStatusOpen {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FineDate.Equal(out[j].FineDate) {
			return out[i].FineDate.Before(out[j].FineDate)
		}
		return out[i].FineID < out[j].FineID
	})
	return out, nil
}

func (r *fakeFineRepo) UpdateRemaining(_ *gorm.DB, fineID int64, remaining decimal.Decimal, status models.FineStatus) error {
	f, ok := r.store.fines[fineID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	f.RemainingAmount = remaining
	f.PaymentStatus = status
	return nil
}

func (r *fakeFineRepo) UpdateStatus(_ *gorm.DB, fineID int64, status models.FineStatus) error {
	f, ok := r.store.fines[fineID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	f.PaymentStatus = status
	return nil
}

func (r *fakeFineRepo) ListByMember(_ *gorm.DB, memberID int64) ([]models.Fine, error) {
	var out []models.Fine
	for _, f := range r.store.fines {
		if f.MemberID == memberID {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FineID < out[j].FineID })
	return out, nil
}

func (r *fakeFineRepo) List(_ *gorm.DB) ([]models.Fine, error) {
	var out []models.Fine
	for _, f := range r.store.fines {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FineID < out[j].FineID })
	return out, nil
}

type fakeReservationRepo struct{ store *memStore }

func (r *fakeReservationRepo) Create(_ *gorm.DB, reservation *models.Reservation) error {
	r.store.nextReservationID++
	reservation.ReservationID = r.store.nextReservationID
	cp := *reservation
	r.store.reservations[reservation.ReservationID] = &cp
	return nil
}

func (r *fakeReservationRepo) GetByIDForUpdate(_ *gorm.DB, reservationID int64) (*models.Reservation, error) {
	res, ok := r.store.reservations[reservationID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *res
	return &cp, nil
}

func (r *fakeReservationRepo) GetActiveByMemberAndISBN(_ *gorm.DB, memberID int64, isbn string) (*models.Reservation, error) {
	for _, res := range r.store.reservations {
		if res.MemberID == memberID && res.ISBN == isbn &&
			(res.Status == models.ReservationStatusPending || res.Status == models.ReservationStatusReady) {
			cp := *res
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeReservationRepo) UpdateStatus(_ *gorm.DB, reservationID int64, status models.ReservationStatus) error {
	res, ok := r.store.reservations[reservationID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	res.Status = status
	return nil
}

func (r *fakeReservationRepo) FulfillPending(_ *gorm.DB, memberID int64, isbn string) error {
	for _, res := range r.store.reservations {
		if res.MemberID == memberID && res.ISBN == isbn && res.Status == models.ReservationStatusPending {
			res.Status = models.ReservationStatusFulfilled
		}
	}
	return nil
}

func (r *fakeReservationRepo) ListByMember(_ *gorm.DB, memberID int64) ([]models.Reservation, error) {
	var out []models.Reservation
	for _, res := range r.store.reservations {
		if res.MemberID == memberID {
			out = append(out, *res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReservationID < out[j].ReservationID })
	return out, nil
}

func (r *fakeReservationRepo) List(_ *gorm.DB) ([]models.Reservation, error) {
	var out []models.Reservation
	for _, res := range r.store.reservations {
		out = append(out, *res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReservationID < out[j].ReservationID })
	return out, nil
}

type fakePaymentRepo struct{ store *memStore }

func (r *fakePaymentRepo) Create(_ *gorm.DB, payment *models.Payment) error {
	cp := *payment
	r.store.payments = append(r.store.payments, &cp)
	return nil
}

func (r *fakePaymentRepo) ListByMember(_ *gorm.DB, memberID int64) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range r.store.payments {
		if p.MemberID == memberID {
			out = append(out, *p)
		}
	}
	return out, nil
}

// fixture bundles the fakes with fully wired services.
type fixture struct {
	store *memStore
	cfg   Config

	loans        LoanService
	fines        FineService
	reservations ReservationService
	catalog      CatalogService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemStore()
	db := &fakeDB{}
	members := &fakeMemberRepo{store: store}
	books := &fakeBookRepo{store: store}
	loans := &fakeLoanRepo{store: store}
	fines := &fakeFineRepo{store: store}
	reservations := &fakeReservationRepo{store: store}
	payments := &fakePaymentRepo{store: store}

	cfg := DefaultConfig()

	return &fixture{
		store:        store,
		cfg:          cfg,
		loans:        NewLoanService(db, cfg, members, books, loans, fines, reservations),
		fines:        NewFineService(db, members, loans, fines, payments),
		reservations: NewReservationService(db, cfg, members, books, loans, reservations),
		catalog:      NewCatalogService(db, books),
	}
}

func (f *fixture) addMember(userID int64) *models.Member {
	f.store.nextMemberID++
	m := &models.Member{MemberID: f.store.nextMemberID, UserID: userID}
	f.store.members[m.MemberID] = m
	return m
}

func (f *fixture) addBook(isbn string, available, total int) *models.Book {
	b := &models.Book{ISBN: isbn, Title: "Book " + isbn, CopiesAvailable: available, TotalCopies: total}
	f.store.books[isbn] = b
	return b
}

func (f *fixture) addLoan(memberID int64, isbn string, due time.Time) *models.Loan {
	f.store.nextLoanID++
	l := &models.Loan{
		LoanID:     f.store.nextLoanID,
		ISBN:       isbn,
		MemberID:   memberID,
		BorrowDate: due.AddDate(0, 0, -14),
		DueDate:    due,
	}
	f.store.loans[l.LoanID] = l
	return l
}

func (f *fixture) addFine(memberID, loanID int64, amount string, date time.Time) *models.Fine {
	f.store.nextFineID++
	amt := decimal.RequireFromString(amount)
	fine := &models.Fine{
		FineID:          f.store.nextFineID,
		LoanID:          loanID,
		MemberID:        memberID,
		OriginalAmount:  amt,
		RemainingAmount: amt,
		FineDate:        date,
		Reason:          "overdue",
		PaymentStatus:   models.FineStatusOpen,
	}
	f.store.fines[fine.FineID] = fine
	return fine
}

func memberIdentity(userID int64) Identity {
	return Identity{UserID: userID, Role: models.RoleMember}
}

func adminIdentity() Identity {
	return Identity{UserID: 999, Role: models.RoleAdmin}
}

// requireAmount asserts decimal equality with a readable failure message.
func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("amount mismatch: want %s, got %s", want, got)
	}
}
