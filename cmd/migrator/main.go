// Command migrator applies the pipeline-events schema. The backend only
// reads the table, so migrations run out of band (deploy hook or by hand).
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	up := flag.Bool("up", false, "apply all pending migrations")
	down := flag.Bool("down", false, "roll back all migrations")
	steps := flag.Int("steps", 0, "apply +/- N migrations")
	source := flag.String("migrations", "db/migrations", "migrations directory")
	flag.Parse()

	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "guardcar")
	password := os.Getenv("DB_PASSWORD")
	dbname := getEnv("DB_NAME", "guardcar")
	sslmode := getEnv("DB_SSLMODE", "disable")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, dbname, sslmode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("[Migrator] open: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("[Migrator] ping: %v", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("[Migrator] driver: %v", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+*source, "postgres", driver)
	if err != nil {
		log.Fatalf("[Migrator] init: %v", err)
	}

	start := time.Now()
	switch {
	case *up:
		log.Println("[Migrator] applying up migrations")
		err = m.Up()
	case *down:
		log.Println("[Migrator] rolling back all migrations")
		err = m.Down()
	case *steps != 0:
		log.Printf("[Migrator] applying %d step(s)", *steps)
		err = m.Steps(*steps)
	default:
		version, dirty, verr := m.Version()
		if verr != nil {
			log.Println("[Migrator] no version recorded (empty database?)")
		} else {
			log.Printf("[Migrator] current version %d (dirty=%v)", version, dirty)
		}
		log.Println("[Migrator] nothing to do; pass -up, -down or -steps")
		return
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("[Migrator] migration failed: %v", err)
	}
	log.Printf("[Migrator] done in %v", time.Since(start))
}
