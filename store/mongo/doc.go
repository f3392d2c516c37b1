// Package mongo implements store.Store using the official MongoDB driver.
// Suitable for deployments that already run MongoDB and want the job
// archive and dead-letter collections next to their application data.
//
// The caller owns the *mongo.Client lifecycle — this package never
// disconnects it. Pass a database handle through the constructor:
//
//	import (
//	    mongod "go.mongodb.org/mongo-driver/v2/mongo"
//	    "go.mongodb.org/mongo-driver/v2/mongo/options"
//	    mongostore "github.com/triagehq/triage/store/mongo"
//	)
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	store := mongostore.New(client.Database("triage"))
//	store.Migrate(ctx)
package mongo
