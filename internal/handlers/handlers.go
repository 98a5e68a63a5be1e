package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"circulation/internal/models"
	"circulation/internal/services"
)

type CirculationHandler struct {
	loans        services.LoanService
	fines        services.FineService
	reservations services.ReservationService
	catalog      services.CatalogService
	members      services.MemberService
}

func RegisterRoutes(
	r *gin.Engine,
	loans services.LoanService,
	fines services.FineService,
	reservations services.ReservationService,
	catalog services.CatalogService,
	members services.MemberService,
) {
	h := &CirculationHandler{
		loans:        loans,
		fines:        fines,
		reservations: reservations,
		catalog:      catalog,
		members:      members,
	}

	auth := r.Group("/", Identity())
	admin := auth.Group("/", RequireAdmin())

	// Circulation
	auth.POST("/loans/borrow", h.borrow)
	auth.POST("/loans/return", h.returnLoan)
	auth.GET("/loans/me", h.listMyLoans)
	admin.GET("/loans", h.listLoans)
	admin.PATCH("/loans/:id/extend", h.extendLoan)

	// Fine ledger
	auth.PATCH("/fines/:id/pay", h.payFine)
	auth.POST("/fines/pay", h.payBulk)
	auth.GET("/fines/me", h.listMyFines)
	auth.GET("/payments/me", h.listMyPayments)
	admin.GET("/fines", h.listFines)
	admin.POST("/fines", h.createFine)
	admin.PUT("/fines/:id/reduce", h.reduceFine)
	admin.PATCH("/fines/:id/status", h.setFineStatus)

	// Reservations
	auth.POST("/reservations", h.reserve)
	auth.PATCH("/reservations/:id/cancel", h.cancelReservation)
	auth.GET("/reservations/me", h.listMyReservations)
	admin.GET("/reservations", h.listReservations)
	admin.PATCH("/reservations/:id/status", h.setReservationStatus)

	// Catalog
	auth.GET("/books", h.listBooks)
	auth.GET("/books/:isbn", h.getBook)
	admin.POST("/books", h.createBook)
	admin.PUT("/books/:isbn", h.updateBook)
	admin.DELETE("/books/:isbn", h.deleteBook)

	// Members
	admin.POST("/members", h.createMember)
	admin.GET("/members", h.listMembers)
	admin.GET("/members/:id", h.getMember)
}

// writeError maps domain errors onto HTTP statuses. Storage failures fall
// through to 500 without leaking internals.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrBookNotFound),
		errors.Is(err, services.ErrMemberNotFound),
		errors.Is(err, services.ErrLoanNotFound),
		errors.Is(err, services.ErrFineNotFound),
		errors.Is(err, services.ErrReservationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrOutOfStock),
		errors.Is(err, services.ErrAlreadyReturned),
		errors.Is(err, services.ErrDuplicateReservation),
		errors.Is(err, services.ErrDuplicateFine),
		errors.Is(err, services.ErrDuplicateBook):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrMemberIDRequired),
		errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidStatus),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrInvalidCopies),
		errors.Is(err, models.ErrInvalidISBN):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// ─── Circulation ──────────────────────────────────────────────────────────────

type borrowRequest struct {
	ISBN     string `json:"isbn" binding:"required"`
	MemberID int64  `json:"member_id"`
}

func (h *CirculationHandler) borrow(c *gin.Context) {
	var req borrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	loan, err := h.loans.Borrow(c.Request.Context(), identity(c), req.ISBN, req.MemberID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, loan)
}

type returnRequest struct {
	LoanID int64 `json:"loan_id" binding:"required"`
}

func (h *CirculationHandler) returnLoan(c *gin.Context) {
	var req returnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	loan, fine, err := h.loans.Return(c.Request.Context(), identity(c), req.LoanID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loan": loan, "fine": fine})
}

type extendRequest struct {
	Days int `json:"days" binding:"required,min=1"`
}

func (h *CirculationHandler) extendLoan(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req extendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	loan, err := h.loans.Extend(c.Request.Context(), id, req.Days)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, loan)
}

func (h *CirculationHandler) listMyLoans(c *gin.Context) {
	loans, err := h.loans.ListMemberLoans(c.Request.Context(), identity(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, loans)
}

func (h *CirculationHandler) listLoans(c *gin.Context) {
	loans, err := h.loans.ListAllLoans(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, loans)
}

// ─── Fine ledger ──────────────────────────────────────────────────────────────

type payFineRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

func (h *CirculationHandler) payFine(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req payFineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// The ledger clamps whatever it is given, but an explicit non-positive
	// amount is a caller mistake and is rejected here.
	if req.Amount != nil && !req.Amount.IsPositive() {
		writeError(c, services.ErrInvalidAmount)
		return
	}

	fine, applied, err := h.fines.PaySingle(c.Request.Context(), identity(c), id, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fine": fine, "applied": applied})
}

type payBulkRequest struct {
	Amount   decimal.Decimal `json:"amount" binding:"required"`
	MemberID int64           `json:"member_id"`
}

func (h *CirculationHandler) payBulk(c *gin.Context) {
	var req payBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.fines.PayBulk(c.Request.Context(), identity(c), req.MemberID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type reduceFineRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

func (h *CirculationHandler) reduceFine(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reduceFineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fine, err := h.fines.Reduce(c.Request.Context(), id, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fine)
}

type fineStatusRequest struct {
	Status models.FineStatus `json:"status" binding:"required"`
}

func (h *CirculationHandler) setFineStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req fineStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fine, err := h.fines.SetStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fine)
}

type createFineRequest struct {
	MemberID int64           `json:"member_id" binding:"required"`
	LoanID   int64           `json:"loan_id" binding:"required"`
	Amount   decimal.Decimal `json:"amount" binding:"required"`
	Reason   string          `json:"reason"`
}

func (h *CirculationHandler) createFine(c *gin.Context) {
	var req createFineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fine, err := h.fines.CreateManual(c.Request.Context(), req.MemberID, req.LoanID, req.Amount, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fine)
}

func (h *CirculationHandler) listMyFines(c *gin.Context) {
	fines, err := h.fines.ListMemberFines(c.Request.Context(), identity(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fines)
}

func (h *CirculationHandler) listMyPayments(c *gin.Context) {
	payments, err := h.fines.ListMemberPayments(c.Request.Context(), identity(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payments)
}

func (h *CirculationHandler) listFines(c *gin.Context) {
	fines, err := h.fines.ListAllFines(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fines)
}

// ─── Reservations ─────────────────────────────────────────────────────────────

type reserveRequest struct {
	ISBN string `json:"isbn" binding:"required"`
}

func (h *CirculationHandler) reserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reservation, err := h.reservations.Reserve(c.Request.Context(), identity(c), req.ISBN)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reservation)
}

func (h *CirculationHandler) cancelReservation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	reservation, err := h.reservations.Cancel(c.Request.Context(), identity(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

type reservationStatusRequest struct {
	Status models.ReservationStatus `json:"status" binding:"required"`
}

func (h *CirculationHandler) setReservationStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reservationStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reservation, err := h.reservations.SetStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

func (h *CirculationHandler) listMyReservations(c *gin.Context) {
	reservations, err := h.reservations.ListMemberReservations(c.Request.Context(), identity(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservations)
}

func (h *CirculationHandler) listReservations(c *gin.Context) {
	reservations, err := h.reservations.ListAllReservations(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservations)
}

// ─── Catalog ──────────────────────────────────────────────────────────────────

type createBookRequest struct {
	ISBN            string `json:"isbn" binding:"required"`
	Title           string `json:"title" binding:"required"`
	Author          string `json:"author"`
	Category        string `json:"category"`
	Description     string `json:"description"`
	CopiesAvailable int    `json:"copies_available"`
	TotalCopies     int    `json:"total_copies"`
}

func (h *CirculationHandler) createBook(c *gin.Context) {
	var req createBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	book, err := h.catalog.CreateBook(c.Request.Context(), &models.Book{
		ISBN:            req.ISBN,
		Title:           req.Title,
		Author:          req.Author,
		Category:        req.Category,
		Description:     req.Description,
		CopiesAvailable: req.CopiesAvailable,
		TotalCopies:     req.TotalCopies,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

type updateBookRequest struct {
	Title           *string `json:"title"`
	Author          *string `json:"author"`
	Category        *string `json:"category"`
	Description     *string `json:"description"`
	CopiesAvailable *int    `json:"copies_available"`
	TotalCopies     *int    `json:"total_copies"`
}

func (h *CirculationHandler) updateBook(c *gin.Context) {
	var req updateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	book, err := h.catalog.UpdateBook(c.Request.Context(), c.Param("isbn"), services.BookUpdate{
		Title:           req.Title,
		Author:          req.Author,
		Category:        req.Category,
		Description:     req.Description,
		CopiesAvailable: req.CopiesAvailable,
		TotalCopies:     req.TotalCopies,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *CirculationHandler) deleteBook(c *gin.Context) {
	book, err := h.catalog.DeleteBook(c.Request.Context(), c.Param("isbn"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *CirculationHandler) getBook(c *gin.Context) {
	book, err := h.catalog.GetBook(c.Request.Context(), c.Param("isbn"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *CirculationHandler) listBooks(c *gin.Context) {
	books, err := h.catalog.ListBooks(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

// ─── Members ──────────────────────────────────────────────────────────────────

type createMemberRequest struct {
	UserID  int64  `json:"user_id" binding:"required"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (h *CirculationHandler) createMember(c *gin.Context) {
	var req createMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := h.members.CreateMember(c.Request.Context(), &models.Member{
		UserID:  req.UserID,
		Name:    req.Name,
		Address: req.Address,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

func (h *CirculationHandler) getMember(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	member, err := h.members.GetMember(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *CirculationHandler) listMembers(c *gin.Context) {
	members, err := h.members.ListMembers(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}
