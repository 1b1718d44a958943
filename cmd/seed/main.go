// seed prepares the database: it creates the schema and fills the usage
// table with a simulated year of electricity measurements, 96 samples per
// day at 15 minute marks.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"voltiq/internal/config"
	"voltiq/internal/store"
)

func main() {
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before seeding (fresh start)")
	schemaOnly := flag.Bool("schema-only", false, "Only set up schema, don't seed usage data")
	year := flag.Int("year", time.Now().Year(), "Year to simulate usage data for")
	seed := flag.Int64("seed", 42, "Random seed for the simulated load curve")
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.Load()

	// SAFETY: prevent destructive operations in production
	if cfg.Environment == "prod" && *dropTables {
		log.Fatalf("BLOCKED: cannot run --drop-tables in production environment")
	}

	log.Printf("Seeding database (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)

	ctx := context.Background()
	pool, err := store.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	tables := store.NewTableNames(cfg.TablePrefix)

	if *dropTables {
		log.Println("Dropping all tables...")
		if err := dropAllTables(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		log.Println("Tables dropped")
	}

	log.Println("Ensuring database schema is up to date...")
	if err := runSchema(ctx, pool, tables); err != nil {
		log.Fatalf("Failed to run schema: %v", err)
	}
	log.Println("Schema ready")

	if *schemaOnly {
		log.Println("Schema setup complete (schema-only mode)")
		return
	}

	log.Printf("Seeding usage records for %d...", *year)
	count, err := seedUsageRecords(ctx, pool, tables, *year, *seed)
	if err != nil {
		log.Fatalf("Failed to seed usage records: %v", err)
	}
	log.Printf("Seeded %d usage records", count)
}

func dropAllTables(ctx context.Context, pool *pgxpool.Pool, tables *store.TableNames) error {
	for _, table := range []string{tables.Turns, tables.Chats, tables.UsageRecords} {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			return err
		}
	}
	return nil
}

func runSchema(ctx context.Context, pool *pgxpool.Pool, tables *store.TableNames) error {
	// Enable UUID extension
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\""); err != nil {
		return err
	}

	createChats := `
		CREATE TABLE IF NOT EXISTS ` + tables.Chats + ` (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			title TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, createChats); err != nil {
		return err
	}

	createTurns := `
		CREATE TABLE IF NOT EXISTS ` + tables.Turns + ` (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			chat_id UUID NOT NULL REFERENCES ` + tables.Chats + `(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_invocations JSONB,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, createTurns); err != nil {
		return err
	}

	createTurnsIdx := `
		CREATE INDEX IF NOT EXISTS ` + tables.Turns + `_chat_id_idx
		ON ` + tables.Turns + ` (chat_id, created_at)
	`
	if _, err := pool.Exec(ctx, createTurnsIdx); err != nil {
		return err
	}

	createUsage := `
		CREATE TABLE IF NOT EXISTS ` + tables.UsageRecords + ` (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			date TEXT NOT NULL,
			time TEXT NOT NULL,
			usage DOUBLE PRECISION NOT NULL,
			UNIQUE (date, time)
		)
	`
	if _, err := pool.Exec(ctx, createUsage); err != nil {
		return err
	}

	return nil
}

// seedUsageRecords fills a full simulated year: 96 samples per day at
// 00:00..23:45. The load curve follows a daily factory profile with the
// occasional peak above 2000 kW so the anomaly tool has something to find.
func seedUsageRecords(ctx context.Context, pool *pgxpool.Pool, tables *store.TableNames, year int, seed int64) (int, error) {
	if _, err := pool.Exec(ctx, "DELETE FROM "+tables.UsageRecords); err != nil {
		return 0, err
	}

	rng := rand.New(rand.NewSource(seed))

	insert := `
		INSERT INTO ` + tables.UsageRecords + ` (date, time, usage)
		VALUES ($1, $2, $3)
	`

	count := 0
	day := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	for day.Year() == year {
		date := fmt.Sprintf("%02d/%02d", int(day.Month()), day.Day())
		for slot := 0; slot < 96; slot++ {
			hour := slot / 4
			minute := (slot % 4) * 15
			ts := fmt.Sprintf("%02d:%02d", hour, minute)

			usage := simulatedLoad(rng, hour)
			if _, err := pool.Exec(ctx, insert, date, ts, usage); err != nil {
				return count, fmt.Errorf("insert %s %s: %w", date, ts, err)
			}
			count++
		}
		day = day.AddDate(0, 0, 1)
	}

	return count, nil
}

// simulatedLoad models a factory day: low overnight, ramping through the
// morning, peaking in the afternoon. Roughly one sample in two hundred
// spikes past the 2000 kW anomaly threshold.
func simulatedLoad(rng *rand.Rand, hour int) float64 {
	base := 400.0 + 1200.0*math.Sin(math.Pi*float64(hour)/24.0)
	noise := rng.Float64()*200.0 - 100.0

	usage := base + noise
	if rng.Float64() < 0.005 {
		usage = 2000.0 + rng.Float64()*500.0
	}
	if usage < 0 {
		usage = 0
	}

	return math.Round(usage*100) / 100
}
