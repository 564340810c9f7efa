package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/model"
)

func (s *Store) verifications() *mongo.Collection { return s.db.Collection(VerificationsCollection) }

// CreateVerification inserts a verification record.
func (s *Store) CreateVerification(ctx context.Context, v model.Verification) error {
	if v.CheckedIDs == nil {
		v.CheckedIDs = []string{}
	}
	if _, err := s.verifications().InsertOne(ctx, v); err != nil {
		return fmt.Errorf("creating verification: %w", err)
	}
	return nil
}

// GetVerification returns a verification record.
func (s *Store) GetVerification(ctx context.Context, id string) (*model.Verification, error) {
	var v model.Verification
	if err := s.verifications().FindOne(ctx, bson.M{"_id": id}).Decode(&v); err != nil {
		return nil, notFound(err, "getting verification "+id)
	}
	return &v, nil
}

// FindVerifications returns records matching f, oldest first.
func (s *Store) FindVerifications(ctx context.Context, f model.VerificationFilter) ([]model.Verification, error) {
	q := bson.M{}
	if f.Date != "" {
		q["date"] = f.Date
	}
	if f.Subject != nil {
		q["subject.kind"] = f.Subject.Kind
		switch f.Subject.Kind {
		case model.SubjectSoldier:
			q["subject.soldier_id"] = f.Subject.SoldierID
		case model.SubjectItem:
			q["subject.item_category"] = f.Subject.ItemCategory
			q["subject.item_id"] = f.Subject.ItemID
		}
	}
	if f.CheckedID != "" {
		q["checked_ids"] = f.CheckedID
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.verifications().Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("finding verifications: %w", err)
	}
	var out []model.Verification
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding verifications: %w", err)
	}
	return out, nil
}

// ReplaceVerification overwrites the snapshot of an existing record.
func (s *Store) ReplaceVerification(ctx context.Context, id string, checkedIDs []string, verifiedBy string, at time.Time) (*model.Verification, error) {
	if checkedIDs == nil {
		checkedIDs = []string{}
	}
	update := bson.M{"$set": bson.M{"checked_ids": checkedIDs, "verified_by": verifiedBy, "created_at": at}}

	var v model.Verification
	if err := s.verifications().FindOneAndUpdate(ctx, bson.M{"_id": id}, update, after()).Decode(&v); err != nil {
		return nil, notFound(err, "replacing verification "+id)
	}
	return &v, nil
}

// DeleteVerification hard-deletes a verification record.
func (s *Store) DeleteVerification(ctx context.Context, id string) error {
	res, err := s.verifications().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deleting verification: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("deleting verification %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// CreateSoldier inserts a soldier.
func (s *Store) CreateSoldier(ctx context.Context, sol model.Soldier) (*model.Soldier, error) {
	if sol.CreatedAt.IsZero() {
		sol.CreatedAt = s.now().UTC()
	}
	if _, err := s.db.Collection(SoldiersCollection).InsertOne(ctx, sol); err != nil {
		return nil, fmt.Errorf("creating soldier: %w", err)
	}
	return &sol, nil
}

// GetSoldier returns a soldier by ID.
func (s *Store) GetSoldier(ctx context.Context, id string) (*model.Soldier, error) {
	var sol model.Soldier
	if err := s.db.Collection(SoldiersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&sol); err != nil {
		return nil, notFound(err, "getting soldier "+id)
	}
	return &sol, nil
}

// ListSoldiers returns soldiers by name, optionally limited to division.
func (s *Store) ListSoldiers(ctx context.Context, division string) ([]model.Soldier, error) {
	q := bson.M{}
	if division != "" {
		q["division"] = division
	}
	cur, err := s.db.Collection(SoldiersCollection).Find(ctx, q, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing soldiers: %w", err)
	}
	var out []model.Soldier
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding soldiers: %w", err)
	}
	return out, nil
}

type auditDoc struct {
	ID         string    `bson:"_id"`
	Action     string    `bson:"action"`
	SubjectID  string    `bson:"subject_id"`
	Payload    []byte    `bson:"payload"`
	OccurredAt time.Time `bson:"occurred_at"`
}

// SaveAuditEvent stores an encoded audit event. Saving the same ID again
// replaces the payload.
func (s *Store) SaveAuditEvent(ctx context.Context, id, action, subjectID string, payload []byte, occurredAt time.Time) error {
	update := bson.M{
		"$set":         bson.M{"payload": payload},
		"$setOnInsert": bson.M{"action": action, "subject_id": subjectID, "occurred_at": occurredAt},
	}
	_, err := s.db.Collection(AuditCollection).UpdateOne(ctx, bson.M{"_id": id}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving audit event: %w", err)
	}
	return nil
}

// LoadAuditEvent returns the encoded payload of an audit event.
func (s *Store) LoadAuditEvent(ctx context.Context, id string) ([]byte, error) {
	var doc auditDoc
	if err := s.db.Collection(AuditCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err, "loading audit event "+id)
	}
	return doc.Payload, nil
}
