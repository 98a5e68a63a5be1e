//go:build ignore
// +build ignore

// Package main provides a manual concurrency stress test for the borrow API.
//
// Usage:
//
//	go run ./scripts/concurrency_test.go <isbn> <user1_id> [user2_id ...]
//
// Or use the convenience environment variables:
//
//	ISBN=<isbn>  USER_IDS=<id1>,<id2>,...  go run ./scripts/concurrency_test.go
//
// What it does:
//  1. Fires N goroutines (one per user) all attempting to borrow the same
//     book simultaneously.
//  2. Prints how many got a loan (201) vs. OutOfStock (409).
//  3. With copies_available = k before the run, exactly k requests must
//     succeed; everything else must be a clean 409.
//
// Prerequisites:
//   - Server must be running and DATABASE_URL must be set.
//   - The book and the member profiles for each user id must exist
//     (cmd/seed creates suitable data).

package main

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultServerAddr = "http://localhost:8080"

type borrowResult struct {
	UserID     string
	StatusCode int
	Err        error
}

func main() {
	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = defaultServerAddr
	}

	isbn := os.Getenv("ISBN")
	userIDsEnv := os.Getenv("USER_IDS")

	var userIDs []string
	if userIDsEnv != "" {
		userIDs = strings.Split(userIDsEnv, ",")
	}

	// Support positional args: script <isbn> [user_ids...]
	args := os.Args[1:]
	if len(args) >= 1 {
		isbn = args[0]
	}
	if len(args) >= 2 {
		userIDs = args[1:]
	}

	if isbn == "" {
		log.Fatal("Usage: ISBN=<isbn> USER_IDS=<id1,id2,...> go run ./scripts/concurrency_test.go\n" +
			"  or: go run ./scripts/concurrency_test.go <isbn> <user1_id> [user2_id ...]")
	}
	if len(userIDs) == 0 {
		log.Fatal("At least one user ID must be provided via USER_IDS env or positional args")
	}

	fmt.Printf("=== Borrow Concurrency Test ===\n")
	fmt.Printf("Server : %s\n", serverAddr)
	fmt.Printf("ISBN   : %s\n", isbn)
	fmt.Printf("Users  : %d\n\n", len(userIDs))

	results := make([]borrowResult, len(userIDs))
	var wg sync.WaitGroup

	// Fire all goroutines simultaneously using a barrier.
	start := make(chan struct{})

	for i, uid := range userIDs {
		wg.Add(1)
		go func(idx int, userID string) {
			defer wg.Done()
			<-start // wait for the barrier
			results[idx] = attemptBorrow(serverAddr, isbn, strings.TrimSpace(userID))
		}(i, uid)
	}

	fmt.Println("Firing all requests simultaneously...")
	close(start)

	wg.Wait()
	fmt.Println("All requests completed.")
	fmt.Println()

	var loans, outOfStock, failures int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failures++
			fmt.Printf("  [ERR ] user=%-8s err=%v\n", r.UserID, r.Err)
		case r.StatusCode == http.StatusCreated:
			loans++
			fmt.Printf("  [LOAN] user=%-8s status=%d\n", r.UserID, r.StatusCode)
		case r.StatusCode == http.StatusConflict:
			outOfStock++
			fmt.Printf("  [OOS ] user=%-8s status=%d\n", r.UserID, r.StatusCode)
		default:
			failures++
			fmt.Printf("  [FAIL] user=%-8s status=%d unexpected response\n", r.UserID, r.StatusCode)
		}
	}

	fmt.Printf("\n--- Summary ---\n")
	fmt.Printf("Loans       : %d\n", loans)
	fmt.Printf("OutOfStock  : %d\n", outOfStock)
	fmt.Printf("Failures    : %d\n", failures)
	fmt.Printf("Total       : %d\n\n", len(userIDs))

	fmt.Println("--- Invariant Check ---")
	fmt.Println("The conditional decrement (copies_available > 0 guard) means the number")
	fmt.Println("of loans above can never exceed the copies available before the run.")

	if failures > 0 {
		fmt.Printf("\n[WARNING] %d request(s) failed, check server logs for details.\n", failures)
		os.Exit(1)
	}
}

// attemptBorrow sends POST /loans/borrow as the given user.
func attemptBorrow(serverAddr, isbn, userID string) borrowResult {
	url := fmt.Sprintf("%s/loans/borrow", serverAddr)
	body := fmt.Sprintf(`{"isbn":%q}`, isbn)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		return borrowResult{UserID: userID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)
	req.Header.Set("X-User-Role", "Member")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return borrowResult{UserID: userID, Err: err}
	}
	defer resp.Body.Close()

	return borrowResult{UserID: userID, StatusCode: resp.StatusCode}
}
