package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"mockpit/internal/cache"
	"mockpit/internal/config"
	"mockpit/internal/mockserver"
	"mockpit/internal/models"
)

func main() {
	fmt.Println("==============================================")
	fmt.Println("📸 Cache Snapshot Verification")
	fmt.Println("==============================================")
	fmt.Println()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../../.env"); err != nil {
			log.Printf("⚠️  No .env file found: %v", err)
		}
	}

	cfg := config.Load()

	fmt.Println("📋 Target:")
	fmt.Printf("  Mock Server: %s\n", cfg.MockServerURL)
	fmt.Printf("  Carrier ID:  %s\n", cache.CarrierID)
	fmt.Printf("  Carrier URL: %s\n", cache.CarrierURL)
	fmt.Println()

	client := mockserver.NewClient(cfg.MockServerURL, mockserver.Options{
		Timeout:        cfg.RequestTimeout,
		MaxRetries:     1,
		RequestsPerSec: cfg.RequestsPerSec,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("🔗 Fetching mappings from the admin API...")
	mappings, err := client.ListMappings(ctx)
	if err != nil {
		log.Fatalf("❌ Admin API unreachable: %v", err)
	}

	var live []models.SlimMapping
	carriers := 0
	for _, m := range mappings {
		if m == nil {
			continue
		}
		if cache.IsCarrier(m) {
			carriers++
			continue
		}
		if models.ExtractIdentifiers(m).Empty() {
			continue
		}
		live = append(live, m.Slim())
	}

	fmt.Printf("  Total records:   %d\n", len(mappings))
	fmt.Printf("  Live mappings:   %d\n", len(live))
	fmt.Printf("  Carrier records: %d\n", carriers)
	if carriers > 1 {
		fmt.Println("  ⚠️  Multiple carrier records; the highest version wins on discovery")
	}
	fmt.Println()

	fmt.Println("🔍 Discovering the carrier snapshot...")
	persistence := cache.NewPersistence(client)
	env, err := persistence.Discover(ctx)
	if err != nil {
		log.Fatalf("❌ Snapshot discovery failed: %v", err)
	}
	if env == nil {
		fmt.Println("  ℹ️  No snapshot stored yet (clean miss)")
		fmt.Println()
		fmt.Println("Done. The server will seed from a direct fetch.")
		return
	}

	fmt.Printf("  Version:   %d\n", env.Version)
	fmt.Printf("  Written:   %s (%s ago)\n",
		time.UnixMilli(env.Timestamp).UTC().Format(time.RFC3339),
		env.Age(time.Now()).Round(time.Second))
	fmt.Printf("  Count:     %d\n", env.Count)
	fmt.Printf("  Hash:      %s\n", env.Hash)
	fmt.Println()

	fmt.Println("⚖️  Verdict:")
	liveHash := models.HashSlimMappings(live)
	if liveHash == env.Hash {
		fmt.Println("  ✅ Snapshot matches the live mapping set")
		return
	}

	fmt.Printf("  ❌ Snapshot diverged (live hash %s, snapshot hash %s)\n", liveHash, env.Hash)
	fmt.Println("     The engine rebuilds from the authoritative fetch on its next validation pass.")
	os.Exit(1)
}
