package syncdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	mghelper "github.com/bizsync/registry-sync/pkg/pgutil/migrations"
	"github.com/bizsync/registry-sync/pkg/syncstate"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating sync_states table...")
		return mghelper.CreateSchema(ctx, db, &syncstate.SyncStateDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping sync_states table...")
		return mghelper.DropTables(ctx, db, &syncstate.SyncStateDao{})
	})
}
