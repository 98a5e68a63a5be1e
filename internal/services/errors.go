package services

import "errors"

var (
	// ErrBookNotFound is returned when the requested book does not exist.
	ErrBookNotFound = errors.New("book not found")

	// ErrMemberNotFound is returned when the referenced member (or the
	// caller's own member profile) does not exist.
	ErrMemberNotFound = errors.New("member not found")

	// ErrLoanNotFound is returned when the referenced loan does not exist.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrFineNotFound is returned when the referenced fine does not exist.
	ErrFineNotFound = errors.New("fine not found")

	// ErrReservationNotFound is returned when the referenced reservation does not exist.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrOutOfStock is returned when the conditional inventory decrement
	// matched no row. A legitimate contention outcome, not a bug; callers may
	// retry at their discretion.
	ErrOutOfStock = errors.New("no copies available")

	// ErrAlreadyReturned is returned when a return is attempted on a loan
	// that has already been closed.
	ErrAlreadyReturned = errors.New("loan already returned")

	// ErrDuplicateReservation is returned when the member already holds an
	// active (Pending or Ready) reservation for the same book.
	ErrDuplicateReservation = errors.New("active reservation already exists for this book")

	// ErrDuplicateFine is returned when a fine already exists for the loan.
	ErrDuplicateFine = errors.New("fine already exists for this loan")

	// ErrDuplicateBook is returned when creating a book with an ISBN that is
	// already cataloged.
	ErrDuplicateBook = errors.New("book already exists")

	// ErrForbidden is returned on ownership violations, e.g. a member acting
	// on another member's loan, fine, or reservation.
	ErrForbidden = errors.New("forbidden")

	// ErrMemberIDRequired is returned when an admin operation that acts on
	// behalf of a member is missing the target member id.
	ErrMemberIDRequired = errors.New("member id is required")

	// ErrInvalidAmount is returned for non-positive or negative amounts where
	// a positive one is required.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrInvalidStatus is returned for an unknown status value.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidTransition is returned when a reservation status change is
	// not allowed by the transition table.
	ErrInvalidTransition = errors.New("invalid reservation status transition")

	// ErrInvalidCopies is returned when a catalog edit would violate
	// 0 <= copies_available <= total_copies.
	ErrInvalidCopies = errors.New("copies_available must be between 0 and total_copies")
)
