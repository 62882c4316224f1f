package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/vesabooks/printapi/internal/config"
	"github.com/vesabooks/printapi/internal/repository/postgres"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/find-order/main.go <fulfiller_order_id|order_reference>")
		fmt.Println("Example: go run cmd/find-order/main.go \"ord_840797\"")
		os.Exit(1)
	}

	needle := os.Args[1]

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

	fmt.Printf("🔍 Searching for print orders with fulfiller_order_id: %s\n\n", needle)

	orders, err := repos.PrintOrder.ListByFulfillerOrderID(ctx, needle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query print orders: %v\n", err)
		os.Exit(1)
	}

	if len(orders) == 0 {
		// Maybe the caller passed an order reference instead
		purchases, perr := repos.Purchase.ListByOrderReference(ctx, needle)
		if perr != nil {
			fmt.Fprintf(os.Stderr, "Failed to query purchases: %v\n", perr)
			os.Exit(1)
		}
		if len(purchases) == 0 {
			fmt.Println("❌ Nothing found for that fulfiller order ID or order reference.")
			os.Exit(1)
		}

		fmt.Printf("✅ Found %d purchase(s) for order reference %s\n\n", len(purchases), needle)
		for _, p := range purchases {
			fmt.Printf("Purchase ID: %s\n", p.ID)
			fmt.Printf("  User ID: %s\n", p.UserID)
			fmt.Printf("  Product Type: %s\n", p.ProductType)
			fmt.Printf("  Price: %d %s\n", p.Price, p.Currency)
			fmt.Printf("  Status: %s\n", p.Status)
			if p.PaymentReference != nil {
				fmt.Printf("  Payment Reference: %s\n", *p.PaymentReference)
			}
			fmt.Printf("  Created At: %s\n", p.CreatedAt)
			fmt.Println()
		}
		return
	}

	fmt.Printf("✅ Found %d print order(s)!\n\n", len(orders))
	for _, o := range orders {
		fmt.Printf("Print Order ID: %s\n", o.ID)
		fmt.Printf("  Purchase ID: %s\n", o.PurchaseID)
		fmt.Printf("  Status: %s\n", o.Status)
		if o.TrackingCarrier != nil {
			fmt.Printf("  Tracking Carrier: %s\n", *o.TrackingCarrier)
		}
		if o.TrackingNumber != nil {
			fmt.Printf("  Tracking Number: %s\n", *o.TrackingNumber)
		}
		if o.TrackingURL != nil {
			fmt.Printf("  Tracking URL: %s\n", *o.TrackingURL)
		}
		if o.DispatchedAt != nil {
			fmt.Printf("  Dispatched At: %s\n", *o.DispatchedAt)
		}
		if o.ErrorMessage != nil {
			fmt.Printf("  Error: %s\n", *o.ErrorMessage)
		}
		fmt.Printf("  Created At: %s\n", o.CreatedAt)

		purchase, perr := repos.Purchase.GetByID(ctx, o.PurchaseID)
		if perr == nil {
			fmt.Printf("  Purchase Status: %s\n", purchase.Status)
			fmt.Printf("  Order Reference: %s\n", purchase.OrderReference)
			fmt.Printf("  Price: %d %s\n", purchase.Price, purchase.Currency)
		}
		fmt.Println()
	}
}
