package syncdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/bizsync/registry-sync/pkg/businessstore"
	mghelper "github.com/bizsync/registry-sync/pkg/pgutil/migrations"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating businesses table...")
		if err := mghelper.CreateSchema(ctx, db, &businessstore.BusinessDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &businessstore.BusinessDao{},
			"operating_status", "record_status", "data_source", "category_large_code", "last_synced_at")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping businesses table...")
		return mghelper.DropTables(ctx, db, &businessstore.BusinessDao{})
	})
}
