// Package bunstore implements store.Store using the Bun ORM. The schema is
// built from model tags through Bun's dialect-aware DDL, so the same store
// runs against PostgreSQL in production and embedded SQLite in tests and
// single-binary deployments.
//
// The caller owns the *bun.DB lifecycle — bunstore never closes it. Pass the
// db handle through the constructor:
//
//	import (
//	    "github.com/uptrace/bun"
//	    "github.com/uptrace/bun/dialect/sqlitedialect"
//	    "github.com/uptrace/bun/driver/sqliteshim"
//	    bunstore "github.com/triagehq/triage/store/bun"
//	)
//
//	sqldb, _ := sql.Open(sqliteshim.ShimName, "file:triage.db")
//	db := bun.NewDB(sqldb, sqlitedialect.New())
//	store := bunstore.New(db)
//	store.Migrate(ctx)
package bunstore
