package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"easycore.dev/internal/migrate"
	"easycore.dev/internal/obs"
	"easycore.dev/migrations"
)

func main() {
	_ = godotenv.Load()
	var (
		dsn   = flag.String("dsn", os.Getenv("DATABASE_DSN"), "PostgreSQL DSN")
		table = flag.String("table", "", "bookkeeping table (default schema_migrations)")
	)
	flag.Parse()
	log := obs.Logger()

	if *dsn == "" {
		log.Fatal().Msg("missing DSN: provide via -dsn or DATABASE_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal().Msg("usage: migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrations.FS, migrate.WithTable(*table))

	switch cmd := flag.Arg(0); cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			log.Info().Str("migration", name).Msg("applied")
		}
		if err == nil && len(applied) == 0 {
			log.Info().Msg("schema up to date")
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			log.Info().Str("migration", name).Msg("rolled back")
		}
	case "status":
		var list []migrate.Migration
		list, err = mgr.Status(ctx)
		for _, m := range list {
			state := "pending"
			if m.Applied {
				state = "applied"
			}
			fmt.Printf("%-8s %s\n", state, m.Name)
		}
	default:
		log.Fatal().Str("command", cmd).Msg("unknown command")
	}
	if err != nil {
		log.Error().Err(err).Str("command", flag.Arg(0)).Msg("migrate failed")
		db.Close()
		cancel()
		os.Exit(1)
	}
}
