// Command migrate applies the embedded database schema migrations.
package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	migrations "github.com/custodix/omnivault/db/migrations"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("OMNIVAULT_DATABASE_DSN"), "postgres connection string")
	down := flag.Bool("down", false, "roll back all migrations instead of applying them")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("migrate: -dsn or OMNIVAULT_DATABASE_DSN required")
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		log.Fatalf("migrate: load migrations: %v", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, *dsn)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			log.Printf("migrate: close source: %v", srcErr)
		}
		if dbErr != nil {
			log.Printf("migrate: close database: %v", dbErr)
		}
	}()

	if *down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("migrate: done")
}
