package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/saviobatista/mavrelay/internal/db/migrations"
)

// run applies, rolls back, or lists the schema migrations
func run(db *sql.DB, rollback, status bool, w io.Writer) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	migrator := migrations.New(db)
	migrationList := migrations.All()

	switch {
	case status:
		pending, err := migrator.Pending(migrationList)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Fprintln(w, "Schema is up to date")
			return nil
		}
		fmt.Fprintf(w, "%d pending migration(s):\n", len(pending))
		for _, name := range pending {
			fmt.Fprintf(w, "  %s\n", name)
		}
		return nil
	case rollback:
		if err := migrator.Rollback(migrationList); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		return nil
	default:
		if err := migrator.Migrate(migrationList); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		return nil
	}
}

func main() {
	// Parse command line flags
	dbURL := flag.String("db", os.Getenv("DB_CONN_STR"), "Database connection string")
	rollback := flag.Bool("rollback", false, "Rollback the last migration")
	status := flag.Bool("status", false, "List pending migrations")
	flag.Parse()

	if *dbURL == "" {
		log.Printf("A database connection string is required (-db or DB_CONN_STR)")
		os.Exit(2)
	}

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		os.Exit(1)
	}

	if err := run(db, *rollback, *status, os.Stdout); err != nil {
		log.Printf("%v", err)
		db.Close()
		os.Exit(1)
	}

	db.Close()
}
