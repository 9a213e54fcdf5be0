package main

import (
	"context"
	"flag"
	"log"

	"github.com/uptrace/bun/migrate"

	"github.com/bizsync/registry-sync/pkg/config"
	"github.com/bizsync/registry-sync/pkg/migrations/syncdb"
	"github.com/bizsync/registry-sync/pkg/pgutil"
	mghelper "github.com/bizsync/registry-sync/pkg/pgutil/migrations"
)

func main() {
	cfgPath := flag.String("config", "config.example.yaml", "Path to configuration file")
	flag.Usage = mghelper.Usage
	flag.Parse()

	dbCfg, err := config.LoadDatabase(*cfgPath)
	if err != nil {
		log.Fatalf("error reading configuration file: %s", err.Error())
	}

	ctx := context.Background()

	db, err := pgutil.ConnectDB(ctx, dbCfg)
	if err != nil {
		log.Fatalf("error connecting to database: %s", err.Error())
	}
	defer db.Close()

	log.Printf("Running migrations for sync database (%s)...\n", dbCfg.Database)

	migrator := migrate.NewMigrator(db, syncdb.Migrations)

	if err := mghelper.RunMigrations(ctx, migrator, flag.Args()...); err != nil {
		mghelper.Exitf(err.Error())
	}
}
