// Command admin runs operator tasks against the ledger and the job queue.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"time"

	"editions/internal/bootstrap"
	"editions/internal/config"
	"editions/internal/models"
	"editions/internal/service"

	"gorm.io/gorm"
)

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  go run ./cmd/admin retry-stuck-mints      - Re-enqueue mints that never reached the chain")
	fmt.Println("  go run ./cmd/admin queue-stats            - Show job counts per type")
	fmt.Println("  go run ./cmd/admin flush-queue            - Drop every queued, active and dead job")
	fmt.Println("  go run ./cmd/admin dead-jobs <type>       - List jobs that exhausted their attempts")
	fmt.Println("  go run ./cmd/admin retry-dead <type> <id> - Requeue a dead job")
	fmt.Println("  go run ./cmd/admin promote <user_id>      - Promote user to admin")
	fmt.Println("  go run ./cmd/admin demote <user_id>       - Demote user from admin")
	fmt.Println("  go run ./cmd/admin list-admins            - List all admins")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{ServiceName: "editions-admin", SkipSchema: true})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	defer func() { _ = rt.Close(ctx) }()

	admin := service.NewAdminService(rt.Queue, rt.NewReconciler(nil, nil))

	switch cmd := os.Args[1]; cmd {
	case "retry-stuck-mints":
		n, err := admin.RetryStuckMints(ctx)
		if err != nil {
			log.Fatalf("Retry failed after %d jobs: %v", n, err)
		}
		fmt.Printf("Enqueued %d mint jobs\n", n)

	case "queue-stats":
		stats, err := admin.QueueStats(ctx)
		if err != nil {
			log.Fatalf("Failed to read queue stats: %v", err)
		}
		printStats(stats)

	case "flush-queue":
		n, err := admin.FlushQueue(ctx)
		if err != nil {
			log.Fatalf("Flush failed: %v", err)
		}
		fmt.Printf("Deleted %d queue keys\n", n)

	case "dead-jobs":
		if len(os.Args) < 3 {
			usage()
			os.Exit(1)
		}
		dead, err := admin.DeadJobs(ctx, os.Args[2], 0)
		if err != nil {
			log.Fatalf("Failed to list dead jobs: %v", err)
		}
		for _, j := range dead {
			fmt.Printf("%s  attempts=%d  created=%s  %s\n", j.ID, j.Attempts, j.CreatedAt.Format(time.RFC3339), j.LastError)
		}
		fmt.Printf("%d dead %s jobs\n", len(dead), os.Args[2])

	case "retry-dead":
		if len(os.Args) < 4 {
			usage()
			os.Exit(1)
		}
		runs, err := admin.RetryDeadJob(ctx, os.Args[2], os.Args[3])
		if err != nil {
			log.Fatalf("Retry failed: %v", err)
		}
		fmt.Printf("Requeued %s as %s\n", os.Args[3], runs)

	case "promote", "demote":
		if len(os.Args) < 3 {
			usage()
			os.Exit(1)
		}
		setAdmin(rt.DB, os.Args[2], cmd == "promote")

	case "list-admins":
		listAdmins(rt.DB)

	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func printStats[T any](stats map[string]T) {
	types := make([]string, 0, len(stats))
	for t := range stats {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		b, _ := json.Marshal(stats[t])
		fmt.Printf("%-28s %s\n", t, b)
	}
}

func setAdmin(db *gorm.DB, rawID string, admin bool) {
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		log.Fatalf("Invalid user id %q", rawID)
	}

	var user models.User
	if err := db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fmt.Printf("User with ID %d not found\n", id)
			os.Exit(1)
		}
		log.Fatalf("Database error: %v", err)
	}

	if user.IsAdmin == admin {
		fmt.Printf("User %s (ID: %d) already has admin=%t\n", user.Username, user.ID, admin)
		return
	}
	if err := db.Model(&user).Update("is_admin", admin).Error; err != nil {
		log.Fatalf("Failed to update user: %v", err)
	}
	fmt.Printf("✅ Set admin=%t for %s (ID: %d)\n", admin, user.Username, user.ID)
}

func listAdmins(db *gorm.DB) {
	var admins []models.User
	if err := db.Where("is_admin = ?", true).Find(&admins).Error; err != nil {
		log.Fatalf("Failed to fetch admins: %v", err)
	}

	if len(admins) == 0 {
		fmt.Println("No admins found in the system")
		return
	}

	fmt.Println("\n📋 Current Admins:")
	fmt.Println("─────────────────────────────────────")
	for _, admin := range admins {
		fmt.Printf("ID: %d | Username: %s | Email: %s\n", admin.ID, admin.Username, admin.Email)
	}
	fmt.Println("─────────────────────────────────────")
}
