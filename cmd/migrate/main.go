// Command migrate applies or reverts the stratbook schema migrations.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"stratbook/internal/observability"
	"stratbook/internal/persistence"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("STRAT_POSTGRES_DSN"), "Postgres connection string")
	dir := flag.String("dir", "migrations", "migrations directory")
	flag.Usage = usage
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd != "up" && cmd != "down" {
		usage()
		os.Exit(2)
	}
	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "migrate: no DSN (set STRAT_POSTGRES_DSN or pass -dsn)")
		os.Exit(2)
	}

	log := observability.NewLogger("migrate")

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer db.Close()

	m := persistence.NewMigrator(db, *dir, log)
	switch cmd {
	case "up":
		err = m.Up(context.Background())
	case "down":
		err = m.Down(context.Background())
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}
	log.Info().Str("command", cmd).Msg("done")
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: migrate [-dsn <postgres-dsn>] [-dir <migrations-dir>] <up|down>

  up    apply every pending migration
  down  revert the most recent migration

STRAT_POSTGRES_DSN is used when -dsn is not given.`)
}
