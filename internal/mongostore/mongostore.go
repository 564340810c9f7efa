// Package mongostore keeps custody state in MongoDB. It serves the same
// interfaces as the SQLite store: one document per item, bulk record,
// verification, soldier and audit event.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/model"
)

// Collection names.
const (
	ItemsCollection         = "items"
	BulkCollection          = "bulk_records"
	VerificationsCollection = "verifications"
	SoldiersCollection      = "soldiers"
	AuditCollection         = "audit_events"
)

// Store is a MongoDB-backed custody store.
type Store struct {
	db  *mongo.Database
	now func() time.Time
}

// Connect dials uri, pings the server and ensures indexes on database.
func Connect(ctx context.Context, uri, database string) (*Store, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("pinging mongo: %w", err)
	}

	s := New(client.Database(database))
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	return s, client, nil
}

// New wraps an existing database handle.
func New(db *mongo.Database) *Store {
	return &Store{db: db, now: time.Now}
}

// EnsureIndexes creates the secondary indexes lookups rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		ItemsCollection: {
			{Keys: bson.D{{Key: "assigned_to", Value: 1}}},
			{Keys: bson.D{{Key: "parent_id", Value: 1}}},
		},
		BulkCollection: {
			{Keys: bson.D{{Key: "assigned_to", Value: 1}, {Key: "type", Value: 1}}},
		},
		VerificationsCollection: {
			{Keys: bson.D{{Key: "date", Value: 1}, {Key: "subject.kind", Value: 1}}},
			{Keys: bson.D{{Key: "checked_ids", Value: 1}}},
		},
		SoldiersCollection: {
			{Keys: bson.D{{Key: "division", Value: 1}, {Key: "name", Value: 1}}},
		},
	}
	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("creating %s indexes: %w", name, err)
		}
	}
	return nil
}

// notFound maps the driver's miss onto apperr.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func after() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

// itemDoc keys an item by its category and serial.
type itemDoc struct {
	Key                  string `bson:"_id"`
	model.SerializedItem `bson:",inline"`
}

func itemKey(ref model.ItemRef) string {
	return ref.String()
}

func (s *Store) items() *mongo.Collection { return s.db.Collection(ItemsCollection) }
func (s *Store) bulk() *mongo.Collection  { return s.db.Collection(BulkCollection) }

// GetItem returns a serialized item.
func (s *Store) GetItem(ctx context.Context, ref model.ItemRef) (*model.SerializedItem, error) {
	var doc itemDoc
	if err := s.items().FindOne(ctx, bson.M{"_id": itemKey(ref)}).Decode(&doc); err != nil {
		return nil, notFound(err, "getting item "+ref.String())
	}
	return &doc.SerializedItem, nil
}

// FindItems returns items matching every non-zero field of f, ordered by
// category and serial.
func (s *Store) FindItems(ctx context.Context, f model.ItemFilter) ([]model.SerializedItem, error) {
	q := bson.M{}
	if f.Category != "" {
		q["category"] = f.Category
	}
	if f.Type != "" {
		q["type"] = f.Type
	}
	if f.Unassigned {
		q["assigned_to"] = ""
	} else if f.AssignedTo != "" {
		q["assigned_to"] = f.AssignedTo
	}
	if f.ArmoryStatus != "" {
		q["armory_status"] = f.ArmoryStatus
	}
	if f.ParentID != "" {
		q["parent_id"] = f.ParentID
	}
	if f.Division != "" {
		q["division"] = f.Division
	}

	opts := options.Find().SetSort(bson.D{{Key: "category", Value: 1}, {Key: "serial", Value: 1}})
	cur, err := s.items().Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("finding items: %w", err)
	}
	var docs []itemDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding items: %w", err)
	}
	out := make([]model.SerializedItem, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.SerializedItem)
	}
	return out, nil
}

// CreateItem inserts a serialized item.
func (s *Store) CreateItem(ctx context.Context, item model.SerializedItem) error {
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = s.now().UTC()
	}
	_, err := s.items().InsertOne(ctx, itemDoc{Key: itemKey(item.Ref()), SerializedItem: item})
	if mongo.IsDuplicateKeyError(err) {
		return apperr.Validation("id", "%s already exists", item.Ref())
	}
	if err != nil {
		return fmt.Errorf("creating item: %w", err)
	}
	return nil
}

// UpdateItem merges p into the stored item.
func (s *Store) UpdateItem(ctx context.Context, ref model.ItemRef, p model.ItemPatch) (*model.SerializedItem, error) {
	set := bson.M{"updated_at": s.now().UTC()}
	if p.AssignedTo != nil {
		set["assigned_to"] = *p.AssignedTo
	}
	if p.ArmoryStatus != nil {
		set["armory_status"] = *p.ArmoryStatus
	}
	if p.DepositLocation != nil {
		set["deposit_location"] = *p.DepositLocation
	}
	if p.Status != nil {
		set["status"] = *p.Status
	}

	var doc itemDoc
	err := s.items().FindOneAndUpdate(ctx, bson.M{"_id": itemKey(ref)}, bson.M{"$set": set}, after()).Decode(&doc)
	if err != nil {
		return nil, notFound(err, "updating item "+ref.String())
	}
	return &doc.SerializedItem, nil
}

// DeleteItem removes a serialized item.
func (s *Store) DeleteItem(ctx context.Context, ref model.ItemRef) error {
	res, err := s.items().DeleteOne(ctx, bson.M{"_id": itemKey(ref)})
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("deleting item %s: %w", ref, apperr.ErrNotFound)
	}
	return nil
}

// GetBulk returns a bulk record.
func (s *Store) GetBulk(ctx context.Context, id string) (*model.BulkRecord, error) {
	var rec model.BulkRecord
	if err := s.bulk().FindOne(ctx, bson.M{"_id": id}).Decode(&rec); err != nil {
		return nil, notFound(err, "getting bulk record "+id)
	}
	return &rec, nil
}

// FindBulk returns records matching f, ordered by type and age.
func (s *Store) FindBulk(ctx context.Context, f model.BulkFilter) ([]model.BulkRecord, error) {
	q := bson.M{}
	if f.Type != "" {
		q["type"] = f.Type
	}
	if f.Unassigned {
		q["assigned_to"] = ""
	} else if f.AssignedTo != "" {
		q["assigned_to"] = f.AssignedTo
	}
	if f.ArmoryStatus != "" {
		q["armory_status"] = f.ArmoryStatus
	}
	if f.Division != "" {
		q["division"] = f.Division
	}

	opts := options.Find().SetSort(bson.D{{Key: "type", Value: 1}, {Key: "updated_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.bulk().Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("finding bulk records: %w", err)
	}
	out := []model.BulkRecord{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding bulk records: %w", err)
	}
	return out, nil
}

// CreateBulk inserts a bulk record.
func (s *Store) CreateBulk(ctx context.Context, rec model.BulkRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now().UTC()
	}
	if _, err := s.bulk().InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("creating bulk record: %w", err)
	}
	return nil
}

// UpdateBulk merges p into the stored record.
func (s *Store) UpdateBulk(ctx context.Context, id string, p model.BulkPatch) (*model.BulkRecord, error) {
	set := bson.M{"updated_at": s.now().UTC()}
	if p.Quantity != nil {
		set["quantity"] = *p.Quantity
	}
	if p.AssignedTo != nil {
		set["assigned_to"] = *p.AssignedTo
	}
	if p.ArmoryStatus != nil {
		set["armory_status"] = *p.ArmoryStatus
	}
	if p.DepositLocation != nil {
		set["deposit_location"] = *p.DepositLocation
	}

	var rec model.BulkRecord
	err := s.bulk().FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, after()).Decode(&rec)
	if err != nil {
		return nil, notFound(err, "updating bulk record "+id)
	}
	return &rec, nil
}

// DeleteBulk removes a bulk record.
func (s *Store) DeleteBulk(ctx context.Context, id string) error {
	res, err := s.bulk().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deleting bulk record: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("deleting bulk record %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}
