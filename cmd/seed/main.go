// Command seed fills a development database with a demo catalog.
package main

import (
	"context"
	"flag"
	"log"

	"editions/internal/config"
	"editions/internal/database"
	"editions/internal/middleware"
	"editions/internal/seed"
)

func main() {
	creators := flag.Int("creators", 5, "Number of creators, each with one app")
	posts := flag.Int("posts", 4, "Releases per app")
	subscribers := flag.Int("subscribers", 10, "Subscribers per app")
	claims := flag.Int("claims", 3, "Free claims per free release")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	randSeed := flag.Int64("seed", 0, "Fake data seed; 0 picks a random one")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Printf("Target: %d creators, %d posts/app, %d subscribers/app, clean=%v\n", *creators, *posts, *subscribers, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to seed a production database")
	}
	middleware.InitMiddleware(cfg)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()
	s := seed.NewSeeder(db, seed.Options{
		Creators:          *creators,
		PostsPerApp:       *posts,
		SubscribersPerApp: *subscribers,
		ClaimsPerPost:     *claims,
		Seed:              *randSeed,
	})

	if *shouldClean {
		if err := s.ClearAll(ctx); err != nil {
			log.Fatalf("❌ Cleanup failed: %v", err)
		}
	}

	sum, err := s.Run(ctx)
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}
	log.Printf("✨ Seeded %d users, %d apps, %d posts, %d claims\n", sum.Users, sum.Apps, sum.Posts, sum.Claims)
}
