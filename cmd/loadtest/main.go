// loadtest 對存款端點灌流量，量測帳本核心的 TPS。
// 先用 -setup 建立測試帳戶，再帶著該帳戶 ID 執行壓測。
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	target      = flag.String("target", "http://localhost:8080", "ledger core base URL")
	userID      = flag.String("user", "loadtest-user", "resolved principal id")
	accountID   = flag.String("account", "", "target account id (required unless -setup)")
	totalCount  = flag.Int("n", 100000, "total requests")
	concurrency = flag.Int("c", 200, "concurrent workers")
	setup       = flag.Bool("setup", false, "create a checking account and exit")
)

func main() {
	flag.Parse()
	client := &http.Client{Timeout: 10 * time.Second}

	if *setup {
		id, err := createAccount(client)
		if err != nil {
			log.Fatalf("setup failed: %v", err)
		}
		fmt.Printf("account created: %s\n", id)
		return
	}
	if *accountID == "" {
		log.Fatal("-account is required (run with -setup first)")
	}

	var wg sync.WaitGroup
	wg.Add(*totalCount)
	sem := make(chan struct{}, *concurrency)

	startTime := time.Now()

	for i := 0; i < *totalCount; i++ {
		sem <- struct{}{}

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := deposit(client); err != nil {
				if idx%10000 == 0 {
					log.Printf("deposit %d failed: %v", idx, err)
				}
			}
		}(i)
	}

	wg.Wait()

	elapsed := time.Since(startTime)
	fmt.Printf("Completed %d requests in %v\n", *totalCount, elapsed)
	fmt.Printf("TPS: %.2f\n", float64(*totalCount)/elapsed.Seconds())
}

func deposit(client *http.Client) error {
	body, _ := json.Marshal(map[string]any{
		"account_id":  *accountID,
		"amount":      "1.0000",
		"description": "loadtest deposit",
	})
	req, err := http.NewRequest(http.MethodPost, *target+"/api/transactions/deposit", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", *userID)
	req.Header.Set("X-Idempotency-Key", uuid.New().String())

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func createAccount(client *http.Client) (string, error) {
	body, _ := json.Marshal(map[string]any{"kind": "checking"})
	req, err := http.NewRequest(http.MethodPost, *target+"/api/accounts", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", *userID)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var account struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		return "", err
	}
	return account.ID, nil
}
