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
		log.Println("creating business_audit_logs table...")
		if err := mghelper.CreateSchema(ctx, db, &businessstore.AuditLogDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &businessstore.AuditLogDao{}, "external_business_id")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping business_audit_logs table...")
		return mghelper.DropTables(ctx, db, &businessstore.AuditLogDao{})
	})
}
