package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/vesabooks/printapi/internal/config"
	"github.com/vesabooks/printapi/internal/domain"
	"github.com/vesabooks/printapi/internal/repository/postgres"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Initialize database
	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repos := postgres.NewRepositories(db, logger)
	ctx := context.Background()

	// Optionally filter by status: go run cmd/list-orders/main.go charging
	statuses := []domain.PrintOrderStatus{
		domain.PrintOrderStatusCreating,
		domain.PrintOrderStatusCharging,
		domain.PrintOrderStatusPending,
		domain.PrintOrderStatusCancelled,
		domain.PrintOrderStatusFailed,
	}
	if len(os.Args) > 1 {
		status := domain.PrintOrderStatus(os.Args[1])
		if !status.IsValid() {
			fmt.Fprintf(os.Stderr, "Unknown status %q\n", os.Args[1])
			os.Exit(1)
		}
		statuses = []domain.PrintOrderStatus{status}
	}

	fmt.Println("📋 Listing print orders in database:")
	fmt.Println()

	var count int
	for _, status := range statuses {
		orders, err := repos.PrintOrder.ListByStatus(ctx, status, 100, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to query print orders: %v\n", err)
			os.Exit(1)
		}

		for _, o := range orders {
			count++
			fmt.Printf("Print Order #%d:\n", count)
			fmt.Printf("  ID: %s\n", o.ID)
			fmt.Printf("  Purchase ID: %s\n", o.PurchaseID)
			if o.FulfillerOrderID != nil {
				fmt.Printf("  Fulfiller Order ID: %s\n", *o.FulfillerOrderID)
			}
			fmt.Printf("  Status: %s\n", o.Status)
			if o.TrackingNumber != nil {
				fmt.Printf("  Tracking Number: %s\n", *o.TrackingNumber)
			}
			if o.ErrorMessage != nil {
				fmt.Printf("  Error: %s\n", *o.ErrorMessage)
			}
			fmt.Printf("  Created: %s\n", o.CreatedAt)
			fmt.Println()
		}
	}

	if count == 0 {
		fmt.Println("❌ No print orders found in database.")
		fmt.Println("\nTo test the API, you need to:")
		fmt.Println("1. Run migrations: go run cmd/migrate/main.go up")
		fmt.Println("2. Submit an order via POST /v1/print-orders")
		fmt.Println("3. Then query the order status")
	} else {
		fmt.Printf("✅ Found %d print order(s)\n", count)
	}
}
