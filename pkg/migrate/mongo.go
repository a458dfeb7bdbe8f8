package migrate

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stratumhq/stratum-engine/pkg/database"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

const ledgerCollection = "migrations"

// MongoTarget keeps the ledger in a migrations collection and materializes
// system models as collections with their unique indexes.
type MongoTarget struct {
	db          *database.MongoDB
	multiTenant bool
}

var (
	_ Target      = (*MongoTarget)(nil)
	_ ModelTarget = (*MongoTarget)(nil)
)

// NewMongoTarget wires the document target. multiTenant controls whether
// tenant-scoped models get their unique indexes widened with _orgId.
func NewMongoTarget(db *database.MongoDB, multiTenant bool) *MongoTarget {
	return &MongoTarget{db: db, multiTenant: multiTenant}
}

func (t *MongoTarget) ledger() *mongo.Collection {
	return t.db.Database.Collection(ledgerCollection)
}

// Ensure puts a unique index on the ledger's name field. The collection
// itself springs into being on first insert.
func (t *MongoTarget) Ensure(ctx context.Context) error {
	_, err := t.ledger().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("ux_migrations_name"),
	})
	return err
}

func (t *MongoTarget) Executed(ctx context.Context) ([]Record, error) {
	cursor, err := t.ledger().Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Name       string    `bson:"name"`
		ExecutedAt time.Time `bson:"executedAt"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i] = Record{Name: row.Name, ExecutedAt: row.ExecutedAt.UTC()}
	}
	return records, nil
}

func (t *MongoTarget) Record(ctx context.Context, name string, at time.Time) error {
	_, err := t.ledger().InsertOne(ctx, bson.M{"name": name, "executedAt": at})
	return err
}

func (t *MongoTarget) Remove(ctx context.Context, name string) error {
	_, err := t.ledger().DeleteOne(ctx, bson.M{"name": name})
	return err
}

// Wipe drops the whole database, the ledger included.
func (t *MongoTarget) Wipe(ctx context.Context) error {
	return t.db.Database.Drop(ctx)
}

func (t *MongoTarget) CreateModel(ctx context.Context, m models.SystemModel) error {
	name := m.Spec.StorageName()
	existing, err := t.db.Database.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		if err := t.db.Database.CreateCollection(ctx, name); err != nil {
			return err
		}
	}

	indexes := make([]mongo.IndexModel, 0, len(m.UniqueIndexes))
	for _, fields := range m.UniqueIndexes {
		fields = widenIndex(m, fields, t.multiTenant)
		keys := make(bson.D, len(fields))
		for i, field := range fields {
			keys[i] = bson.E{Key: field, Value: 1}
		}
		indexes = append(indexes, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetUnique(true).SetName(indexName(m.Spec, fields)),
		})
	}
	if len(indexes) == 0 {
		return nil
	}
	_, err = t.db.Database.Collection(name).Indexes().CreateMany(ctx, indexes)
	return err
}

func (t *MongoTarget) DropModel(ctx context.Context, m models.SystemModel) error {
	return t.db.Database.Collection(m.Spec.StorageName()).Drop(ctx)
}
