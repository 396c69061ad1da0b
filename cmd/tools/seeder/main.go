package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect DB: %v", err)
	}
	defer conn.Close(context.Background())

	if err := conn.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	seedServices(ctx, conn)
	seedBundles(ctx, conn)
	seedDiscountCodes(ctx, conn)

	log.Println("Seeding completed successfully!")
}

type service struct {
	ID              string
	Name            string
	Description     string
	Price           int64
	DiscountPercent *float64
	Billing         string
	SetupFee        int64
	Requires        []string
}

func pct(v float64) *float64 { return &v }

func seedServices(ctx context.Context, conn *pgx.Conn) {
	services := []service{
		{ID: "landing-page", Name: "Landing page", Description: "Single page site with booking link", Price: 25000, Billing: "one-time"},
		{ID: "booking-site", Name: "Booking website", Description: "Multi-page site with online booking", Price: 60000, DiscountPercent: pct(10), Billing: "one-time"},
		{ID: "hosting", Name: "Managed hosting", Description: "Hosting, SSL and backups", Price: 8000, Billing: "yearly", SetupFee: 2000},
		{ID: "domain-setup", Name: "Domain setup", Description: "DNS and mailbox configuration", Price: 3000, Billing: "one-time", Requires: []string{"hosting"}},
		{ID: "seo-audit", Name: "SEO audit", Description: "Search visibility review", Price: 15000, Billing: "one-time", Requires: []string{"booking-site"}},
		{ID: "maintenance", Name: "Site maintenance", Description: "Monthly content updates", Price: 4000, Billing: "monthly", Requires: []string{"hosting"}},
	}

	fmt.Println("Seeding Labs services...")
	for _, s := range services {
		requires := s.Requires
		if requires == nil {
			requires = []string{}
		}
		_, err := conn.Exec(ctx, `
			INSERT INTO labs_services (id, slug, name, description, price, discount_percent, billing_period, setup_fee, required_services)
			VALUES ($1, $1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				price = EXCLUDED.price,
				discount_percent = EXCLUDED.discount_percent,
				billing_period = EXCLUDED.billing_period,
				setup_fee = EXCLUDED.setup_fee,
				required_services = EXCLUDED.required_services;
		`, s.ID, s.Name, s.Description, s.Price, s.DiscountPercent, s.Billing, s.SetupFee, requires)
		if err != nil {
			log.Printf("Failed to upsert service %s: %v", s.ID, err)
		}
	}
}

func seedBundles(ctx context.Context, conn *pgx.Conn) {
	bundles := []struct {
		Slug     string
		Name     string
		Services []string
	}{
		{"starter", "Starter presence", []string{"landing-page", "hosting", "domain-setup"}},
		{"growth", "Growth kit", []string{"booking-site", "hosting", "domain-setup", "seo-audit"}},
	}

	fmt.Println("Seeding bundles...")
	for _, b := range bundles {
		_, err := conn.Exec(ctx, `
			INSERT INTO labs_bundles (id, slug, name, service_ids)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name, service_ids = EXCLUDED.service_ids;
		`, uuid.NewString(), b.Slug, b.Name, b.Services)
		if err != nil {
			log.Printf("Failed to upsert bundle %s: %v", b.Slug, err)
		}
	}
}

func seedDiscountCodes(ctx context.Context, conn *pgx.Conn) {
	limited := int32(100)
	codes := []struct {
		Code      string
		Type      string
		Value     float64
		MaxUses   *int32
		FirstOnly bool
	}{
		{"WELCOME10", "percentage", 10, nil, true},
		{"LABS5000", "fixed", 5000, &limited, false},
		{"BRAIDS15", "percentage", 15, &limited, false},
	}

	fmt.Println("Seeding discount codes...")
	for _, c := range codes {
		_, err := conn.Exec(ctx, `
			INSERT INTO discount_codes (id, code, discount_type, discount_value, max_uses, is_first_time_only)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT ((upper(code))) DO NOTHING;
		`, uuid.NewString(), c.Code, c.Type, c.Value, c.MaxUses, c.FirstOnly)
		if err != nil {
			log.Printf("Failed to seed discount code %s: %v", c.Code, err)
		}
	}
}
