package services

import (
	"context"
	"log"

	"gorm.io/gorm"

	"circulation/internal/models"
	"circulation/internal/repositories"
)

// CatalogService covers the admin-side book management the ledger depends
// on. Every mutation re-validates 0 <= copies_available <= total_copies, not
// just input validation on create.
type CatalogService interface {
	CreateBook(ctx context.Context, book *models.Book) (*models.Book, error)
	UpdateBook(ctx context.Context, isbn string, update BookUpdate) (*models.Book, error)
	DeleteBook(ctx context.Context, isbn string) (*models.Book, error)
	GetBook(ctx context.Context, isbn string) (*models.Book, error)
	ListBooks(ctx context.Context) ([]models.Book, error)
}

// BookUpdate carries a partial book edit; nil fields are left unchanged.
type BookUpdate struct {
	Title           *string
	Author          *string
	Category        *string
	Description     *string
	CopiesAvailable *int
	TotalCopies     *int
}

type catalogService struct {
	db       TxManager
	bookRepo repositories.BookRepository
}

func NewCatalogService(db TxManager, bookRepo repositories.BookRepository) CatalogService {
	return &catalogService{db: db, bookRepo: bookRepo}
}

func (s *catalogService) CreateBook(ctx context.Context, book *models.Book) (*models.Book, error) {
	normalized, err := models.NormalizeISBN(book.ISBN)
	if err != nil {
		return nil, err
	}
	book.ISBN = normalized

	if book.TotalCopies < 1 {
		book.TotalCopies = 1
	}
	if book.CopiesAvailable == 0 {
		book.CopiesAvailable = book.TotalCopies
	}
	if book.CopiesAvailable < 0 || book.CopiesAvailable > book.TotalCopies {
		return nil, ErrInvalidCopies
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.bookRepo.GetByISBN(tx, normalized); err == nil {
			return ErrDuplicateBook
		} else if !notFound(err) {
			return err
		}
		return s.bookRepo.Create(tx, book)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] CreateBook: %q (%s) cataloged with %d copies", book.Title, book.ISBN, book.TotalCopies)
	return book, nil
}

func (s *catalogService) UpdateBook(ctx context.Context, isbn string, update BookUpdate) (*models.Book, error) {
	normalized, err := models.NormalizeISBN(isbn)
	if err != nil {
		return nil, err
	}

	var book *models.Book

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		book, err = s.bookRepo.GetByISBN(tx, normalized)
		if err != nil {
			if notFound(err) {
				return ErrBookNotFound
			}
			return err
		}

		if update.Title != nil {
			book.Title = *update.Title
		}
		if update.Author != nil {
			book.Author = *update.Author
		}
		if update.Category != nil {
			book.Category = *update.Category
		}
		if update.Description != nil {
			book.Description = *update.Description
		}
		if update.CopiesAvailable != nil {
			book.CopiesAvailable = *update.CopiesAvailable
		}
		if update.TotalCopies != nil {
			book.TotalCopies = *update.TotalCopies
		}

		if book.CopiesAvailable < 0 || book.TotalCopies < 1 || book.CopiesAvailable > book.TotalCopies {
			return ErrInvalidCopies
		}

		return s.bookRepo.Update(tx, book)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] UpdateBook: %s updated (available=%d total=%d)", book.ISBN, book.CopiesAvailable, book.TotalCopies)
	return book, nil
}

func (s *catalogService) DeleteBook(ctx context.Context, isbn string) (*models.Book, error) {
	normalized, err := models.NormalizeISBN(isbn)
	if err != nil {
		return nil, err
	}

	var book *models.Book

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		book, err = s.bookRepo.GetByISBN(tx, normalized)
		if err != nil {
			if notFound(err) {
				return ErrBookNotFound
			}
			return err
		}
		return s.bookRepo.Delete(tx, normalized)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] DeleteBook: %s removed from catalog", normalized)
	return book, nil
}

func (s *catalogService) GetBook(ctx context.Context, isbn string) (*models.Book, error) {
	normalized, err := models.NormalizeISBN(isbn)
	if err != nil {
		return nil, err
	}
	book, err := s.bookRepo.GetByISBN(nil, normalized)
	if err != nil {
		if notFound(err) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	return book, nil
}

func (s *catalogService) ListBooks(ctx context.Context) ([]models.Book, error) {
	return s.bookRepo.List(nil)
}
