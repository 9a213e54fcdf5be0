// Package migrations holds helpers shared by the migration binary and bun migration files.
package migrations

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

const usageText = `Usage:
  go run cmd/sync-server/migrate/main.go [-config file] <command>

Commands:
  init    create the migration bookkeeping tables
  up      apply every pending migration
  down    roll back the last migration group
  status  print applied and pending migrations

Examples:
  go run cmd/sync-server/migrate/main.go -config config.yaml init
  go run cmd/sync-server/migrate/main.go -config config.yaml up
`

// Usage prints command usage and exits.
func Usage() {
	fmt.Print(usageText)
	flag.PrintDefaults()
	os.Exit(2)
}

// Exitf prints the message and the usage, then exits.
func Exitf(s string, args ...any) {
	fmt.Fprintf(os.Stderr, s+"\n", args...)
	Usage()
}

// CreateSchema creates a table for every model unless it already exists.
func CreateSchema(ctx context.Context, db bun.IDB, models ...any) error {
	for _, model := range models {
		log.Println("Creating table for", reflect.TypeOf(model))
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}

// DropTables drops the table of every model, cascading to dependent objects.
func DropTables(ctx context.Context, db bun.IDB, models ...any) error {
	for _, model := range models {
		log.Println("Dropping table for", reflect.TypeOf(model))
		if _, err := db.NewDropTable().Model(model).IfExists().Cascade().Exec(ctx); err != nil {
			return fmt.Errorf("drop table for %T: %w", model, err)
		}
	}
	return nil
}

// CreateModelIndexes creates one idx_<table>_<column> index per column.
func CreateModelIndexes(ctx context.Context, db bun.IDB, model any, columns ...string) error {
	return eachIndex(db, model, columns, func(name, column string) error {
		_, err := db.NewCreateIndex().Model(model).Index(name).Column(column).IfNotExists().Exec(ctx)
		return err
	})
}

// CreateModelUniqueIndexes is CreateModelIndexes for unique indexes.
func CreateModelUniqueIndexes(ctx context.Context, db bun.IDB, model any, columns ...string) error {
	return eachIndex(db, model, columns, func(name, column string) error {
		_, err := db.NewCreateIndex().Model(model).Index(name).Column(column).Unique().IfNotExists().Exec(ctx)
		return err
	})
}

// DropModelIndexes drops the indexes CreateModelIndexes would have created.
func DropModelIndexes(ctx context.Context, db bun.IDB, model any, columns ...string) error {
	return eachIndex(db, model, columns, func(name, _ string) error {
		_, err := db.NewDropIndex().Model(model).Index(name).IfExists().Exec(ctx)
		return err
	})
}

func eachIndex(db bun.IDB, model any, columns []string, fn func(name, column string) error) error {
	if model == nil {
		return fmt.Errorf("model cannot be nil")
	}
	table := db.NewCreateIndex().Model(model).GetTableName()
	if table == "" {
		return fmt.Errorf("failed to resolve table name for model %T", model)
	}
	table = strings.NewReplacer(`"`, "", ".", "_").Replace(table)

	for _, column := range columns {
		name := fmt.Sprintf("idx_%s_%s", table, column)
		if err := fn(name, column); err != nil {
			return fmt.Errorf("index %s: %w", name, err)
		}
	}
	return nil
}

// RunMigrations executes the command in args[0] against migrator.
func RunMigrations(ctx context.Context, migrator *migrate.Migrator, args ...string) error {
	if len(args) == 0 {
		Exitf("no command provided")
	}

	switch args[0] {
	case "init":
		if err := migrator.Init(ctx); err != nil {
			return err
		}
		log.Println("migration tables created")
		return nil

	case "up":
		return locked(ctx, migrator, func() error {
			group, err := migrator.Migrate(ctx)
			if err != nil {
				return err
			}
			if group.IsZero() {
				log.Println("database is up to date")
				return nil
			}
			log.Printf("migrated to %s\n", group)
			return nil
		})

	case "down":
		return locked(ctx, migrator, func() error {
			group, err := migrator.Rollback(ctx)
			if err != nil {
				return err
			}
			if group.IsZero() {
				log.Println("nothing to roll back")
				return nil
			}
			log.Printf("rolled back %s\n", group)
			return nil
		})

	case "status":
		ms, err := migrator.MigrationsWithStatus(ctx)
		if err != nil {
			return err
		}
		log.Printf("migrations: %s\n", ms)
		log.Printf("pending: %s\n", ms.Unapplied())
		log.Printf("last group: %s\n", ms.LastGroup())
		return nil

	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// locked runs fn while holding the migration table lock, so two deploys cannot migrate at once.
func locked(ctx context.Context, migrator *migrate.Migrator, fn func() error) error {
	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if err := migrator.Unlock(ctx); err != nil {
			log.Printf("failed to release migration lock: %v", err)
		}
	}()
	return fn()
}
