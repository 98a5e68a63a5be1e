package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"circulation/internal/handlers"
	"circulation/internal/models"
	"circulation/internal/repositories"
	"circulation/internal/services"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to get generic DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&models.Member{},
		&models.Book{},
		&models.Loan{},
		&models.Fine{},
		&models.Reservation{},
		&models.Payment{},
		&models.PaymentAllocation{},
	); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	cfg := loadConfig()

	memberRepo := repositories.NewMemberRepository(db)
	bookRepo := repositories.NewBookRepository(db)
	loanRepo := repositories.NewLoanRepository(db)
	fineRepo := repositories.NewFineRepository(db)
	reservationRepo := repositories.NewReservationRepository(db)
	paymentRepo := repositories.NewPaymentRepository(db)

	loanService := services.NewLoanService(db, cfg, memberRepo, bookRepo, loanRepo, fineRepo, reservationRepo)
	fineService := services.NewFineService(db, memberRepo, loanRepo, fineRepo, paymentRepo)
	reservationService := services.NewReservationService(db, cfg, memberRepo, bookRepo, loanRepo, reservationRepo)
	catalogService := services.NewCatalogService(db, bookRepo)
	memberService := services.NewMemberService(memberRepo)

	router := gin.Default()

	handlers.RegisterRoutes(router, loanService, fineService, reservationService, catalogService, memberService)

	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = ":8080"
	}

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	log.Printf("Starting server on %s", serverAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// loadConfig reads the circulation policy knobs from the environment,
// falling back to the 14-day / 1.00-per-day defaults.
func loadConfig() services.Config {
	cfg := services.DefaultConfig()

	if v := os.Getenv("LOAN_PERIOD_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 1 {
			log.Fatalf("invalid LOAN_PERIOD_DAYS %q", v)
		}
		cfg.LoanPeriodDays = days
	}

	if v := os.Getenv("DAILY_FINE_RATE"); v != "" {
		rate, err := decimal.NewFromString(v)
		if err != nil || rate.IsNegative() {
			log.Fatalf("invalid DAILY_FINE_RATE %q", v)
		}
		cfg.DailyFineRate = rate
	}

	return cfg
}
