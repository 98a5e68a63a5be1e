// Command seed loads demo catalog and member data into the circulation
// database so the API can be exercised locally.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"circulation/internal/models"
)

var databaseURL string

var rootCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the circulation database with demo books and members",
	RunE: func(cmd *cobra.Command, args []string) error {
		if databaseURL == "" {
			databaseURL = os.Getenv("DATABASE_URL")
		}
		if databaseURL == "" {
			return fmt.Errorf("database URL required (flag --database-url or DATABASE_URL)")
		}

		db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}

		if err := db.AutoMigrate(
			&models.Member{},
			&models.Book{},
			&models.Loan{},
			&models.Fine{},
			&models.Reservation{},
			&models.Payment{},
			&models.PaymentAllocation{},
		); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}

		books := []models.Book{
			{ISBN: "9780141439518", Title: "Pride and Prejudice", Author: "Jane Austen", Category: "Fiction", CopiesAvailable: 5, TotalCopies: 5},
			{ISBN: "9780451524935", Title: "1984", Author: "George Orwell", Category: "Fiction", CopiesAvailable: 3, TotalCopies: 3},
			{ISBN: "9780132350884", Title: "Clean Code", Author: "Robert C. Martin", Category: "Software", CopiesAvailable: 2, TotalCopies: 2},
			{ISBN: "9780134190440", Title: "The Go Programming Language", Author: "Donovan & Kernighan", Category: "Software", CopiesAvailable: 1, TotalCopies: 1},
		}
		for i := range books {
			if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&books[i]).Error; err != nil {
				return fmt.Errorf("seed book %s: %w", books[i].ISBN, err)
			}
		}

		members := []models.Member{
			{UserID: 1, Name: "Ada Lovelace", Address: "12 Analytical Way"},
			{UserID: 2, Name: "Grace Hopper", Address: "9 Compiler Court"},
			{UserID: 3, Name: "Alan Turing", Address: "1 Bletchley Park"},
		}
		for i := range members {
			if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&members[i]).Error; err != nil {
				return fmt.Errorf("seed member for user %d: %w", members[i].UserID, err)
			}
		}

		log.Printf("seeded %d books and %d members", len(books), len(members))
		return nil
	},
}

func main() {
	rootCmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
