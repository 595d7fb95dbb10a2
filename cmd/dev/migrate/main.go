package main

import (
	"context"
	"fmt"
	"os"

	"cabbooking/pkg/config"
	"cabbooking/pkg/db"
)

func main() {
	cfg := config.Load()
	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "file://migrations"
	}

	// This uses DIRECT_URL if set (recommended for Supabase migrations).
	if err := db.Migrate(cfg.MigrationsPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "migrate failed: %v\n", err)
		os.Exit(1)
	}

	// Sanity check the runtime connection (DATABASE_URL) and the booking number function.
	// DSNs are never printed.
	ctx := context.Background()
	pool, err := db.Open(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "runtime db open failed: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_proc WHERE proname = 'generate_booking_number')`).Scan(&exists); err != nil || !exists {
		fmt.Fprintf(os.Stderr, "schema check failed: generate_booking_number missing (err=%v)\n", err)
		os.Exit(1)
	}

	fmt.Println("migrations applied")
}
