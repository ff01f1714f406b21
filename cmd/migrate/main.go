// Command migrate runs Postgres/ClickHouse schema migrations standalone,
// without starting the ingest HTTP listener — useful when an operator
// wants schema changes decoupled from process boot (cmd/server also runs
// AutoMigrate itself when database.auto_migrate is set).
package main

import (
	"flag"
	"fmt"
	"os"

	"crossbridge/internal/config"
	"crossbridge/internal/migration"
)

func main() {
	var (
		db    = flag.String("db", "all", "database to target: postgres, clickhouse, or all")
		dir   = flag.String("direction", "up", "up, down, or status")
		steps = flag.Int("steps", 0, "number of migration steps (0 = all pending)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	mgr, err := migration.NewManager(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init migration manager:", err)
		os.Exit(1)
	}
	defer mgr.Shutdown()

	var targets []migration.DatabaseType
	switch *db {
	case "postgres":
		targets = []migration.DatabaseType{migration.PostgresDB}
	case "clickhouse":
		targets = []migration.DatabaseType{migration.ClickHouseDB}
	case "all":
		targets = []migration.DatabaseType{migration.PostgresDB, migration.ClickHouseDB}
	default:
		fmt.Fprintf(os.Stderr, "unknown -db %q\n", *db)
		os.Exit(1)
	}

	for _, t := range targets {
		switch *dir {
		case "up":
			if err := mgr.Up(t, *steps); err != nil {
				fmt.Fprintf(os.Stderr, "%s up: %v\n", t, err)
				os.Exit(1)
			}
			fmt.Printf("%s: migrated up\n", t)
		case "down":
			if err := mgr.Down(t, *steps); err != nil {
				fmt.Fprintf(os.Stderr, "%s down: %v\n", t, err)
				os.Exit(1)
			}
			fmt.Printf("%s: migrated down\n", t)
		case "status":
			s := mgr.Status(t)
			fmt.Printf("%s: version=%d dirty=%t state=%s files=%d\n",
				s.Database, s.CurrentVersion, s.Dirty, s.State, mgr.CountMigrations(t))
			if s.Error != "" {
				fmt.Printf("  error: %s\n", s.Error)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown -direction %q\n", *dir)
			os.Exit(1)
		}
	}
}
