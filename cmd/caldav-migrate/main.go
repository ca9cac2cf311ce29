// Command caldav-migrate applies or rolls back the relational schema
// migrations under internal/storage/postgres/migrations.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/sonroyaalmerol/caldav-core/internal/config"
	"github.com/sonroyaalmerol/caldav-core/internal/storage/postgres"
)

func main() {
	var (
		direction string
		steps     int
	)
	flag.StringVar(&direction, "direction", "up", "up, down, or a target version number")
	flag.IntVar(&steps, "steps", 0, "when set, move N steps instead of migrating all the way")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	src, err := iofs.New(postgres.MigrationsFS, "migrations")
	if err != nil {
		fmt.Fprintf(os.Stderr, "migration source: %v\n", err)
		os.Exit(1)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.Storage.PostgresURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate init: %v\n", err)
		os.Exit(1)
	}

	switch {
	case steps != 0:
		err = m.Steps(steps)
	case direction == "down":
		err = m.Down()
	case direction != "up":
		v, perr := strconv.ParseUint(direction, 10, 32)
		if perr != nil {
			fmt.Fprintf(os.Stderr, "invalid direction %q\n", direction)
			os.Exit(1)
		}
		err = m.Migrate(uint(v))
	default:
		err = m.Up()
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("migrations applied")
}
