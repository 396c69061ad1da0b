package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/noah-isme/salon-labs/internal/app"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	source := flag.String("source", envOrDefault("MIGRATIONS_PATH", "file://migrations"), "migration source URL")
	steps := flag.Int("steps", 0, "number of steps for up/down (0 = all for up, 1 for down)")
	version := flag.Int("version", -1, "version for force")
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	cmd := app.MigrateCommand{Name: flag.Arg(0), Steps: *steps, Version: *version}
	if cmd.Name == "force" && cmd.Version < 0 {
		log.Fatal("force requires -version")
	}
	v, dirty, err := app.RunMigrations(*source, dbURL, cmd)
	if err != nil {
		log.Fatalf("migrate %s: %v", cmd.Name, err)
	}
	log.Printf("schema at version %d (dirty=%t)", v, dirty)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
