package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/urfave/cli/v2"
	_ "modernc.org/sqlite"

	"tixwatch/migrations"
)

func main() {
	app := &cli.App{
		Name:  "migrate",
		Usage: "manage the tixwatch database schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "driver",
				Value:   "sqlite",
				Usage:   "database driver: sqlite or postgres",
				EnvVars: []string{"DATABASE_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "db",
				Value:   "./data/tixwatch.db",
				Usage:   "path to the sqlite database",
				EnvVars: []string{"DATABASE_PATH"},
			},
			&cli.StringFlag{
				Name:    "url",
				Usage:   "postgres connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
		},
		Commands: []*cli.Command{
			gooseCommand("up", "Migrate to the latest version", func(db *sql.DB, dir string) error { return goose.Up(db, dir) }),
			gooseCommand("up-one", "Migrate one version up", func(db *sql.DB, dir string) error { return goose.UpByOne(db, dir) }),
			gooseCommand("down", "Roll back one version", func(db *sql.DB, dir string) error { return goose.Down(db, dir) }),
			gooseCommand("status", "Show migration status", func(db *sql.DB, dir string) error { return goose.Status(db, dir) }),
			gooseCommand("version", "Show current version", func(db *sql.DB, dir string) error { return goose.Version(db, dir) }),
			gooseCommand("reset", "Roll back all migrations", func(db *sql.DB, dir string) error { return goose.Reset(db, dir) }),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type gooseFunc func(db *sql.DB, dir string) error

func gooseCommand(name, usage string, fn gooseFunc) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(c *cli.Context) error {
			db, dialect, err := open(c)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			dir, err := migrations.Setup(dialect)
			if err != nil {
				return err
			}
			if err := fn(db, dir); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		},
	}
}

func open(c *cli.Context) (*sql.DB, migrations.Dialect, error) {
	switch c.String("driver") {
	case "sqlite":
		db, err := sql.Open("sqlite", c.String("db"))
		if err != nil {
			return nil, "", fmt.Errorf("open database: %w", err)
		}
		return db, migrations.SQLite, nil
	case "postgres":
		if c.String("url") == "" {
			return nil, "", fmt.Errorf("--url or DATABASE_URL is required for postgres")
		}
		db, err := sql.Open("pgx", c.String("url"))
		if err != nil {
			return nil, "", fmt.Errorf("open database: %w", err)
		}
		return db, migrations.Postgres, nil
	default:
		return nil, "", fmt.Errorf("unsupported driver %q", c.String("driver"))
	}
}
