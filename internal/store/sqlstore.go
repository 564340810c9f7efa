package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/erazemk/armory/internal/model"
)

// SQLStore adapts the package functions to the custody, verification,
// directory and audit store interfaces.
type SQLStore struct {
	DB *sql.DB
}

// New returns a SQLStore over db.
func New(db *sql.DB) *SQLStore {
	return &SQLStore{DB: db}
}

func (s *SQLStore) GetItem(ctx context.Context, ref model.ItemRef) (*model.SerializedItem, error) {
	return GetItem(ctx, s.DB, ref)
}

func (s *SQLStore) FindItems(ctx context.Context, f model.ItemFilter) ([]model.SerializedItem, error) {
	return FindItems(ctx, s.DB, f)
}

func (s *SQLStore) CreateItem(ctx context.Context, it model.SerializedItem) error {
	return CreateItem(ctx, s.DB, it)
}

func (s *SQLStore) UpdateItem(ctx context.Context, ref model.ItemRef, p model.ItemPatch) (*model.SerializedItem, error) {
	return UpdateItem(ctx, s.DB, ref, p)
}

func (s *SQLStore) DeleteItem(ctx context.Context, ref model.ItemRef) error {
	return DeleteItem(ctx, s.DB, ref)
}

func (s *SQLStore) GetBulk(ctx context.Context, id string) (*model.BulkRecord, error) {
	return GetBulk(ctx, s.DB, id)
}

func (s *SQLStore) FindBulk(ctx context.Context, f model.BulkFilter) ([]model.BulkRecord, error) {
	return FindBulk(ctx, s.DB, f)
}

func (s *SQLStore) CreateBulk(ctx context.Context, b model.BulkRecord) error {
	return CreateBulk(ctx, s.DB, b)
}

func (s *SQLStore) UpdateBulk(ctx context.Context, id string, p model.BulkPatch) (*model.BulkRecord, error) {
	return UpdateBulk(ctx, s.DB, id, p)
}

func (s *SQLStore) DeleteBulk(ctx context.Context, id string) error {
	return DeleteBulk(ctx, s.DB, id)
}

// SplitBulk implements split.AtomicSplitter.
func (s *SQLStore) SplitBulk(ctx context.Context, id string, quantity int, fragment model.BulkRecord) error {
	return SplitBulk(ctx, s.DB, id, quantity, fragment)
}

// MergeBulk implements split.AtomicMerger.
func (s *SQLStore) MergeBulk(ctx context.Context, keep string, absorbed []string) error {
	return MergeBulk(ctx, s.DB, keep, absorbed)
}

func (s *SQLStore) CreateVerification(ctx context.Context, v model.Verification) error {
	return CreateVerification(ctx, s.DB, v)
}

func (s *SQLStore) GetVerification(ctx context.Context, id string) (*model.Verification, error) {
	return GetVerification(ctx, s.DB, id)
}

func (s *SQLStore) FindVerifications(ctx context.Context, f model.VerificationFilter) ([]model.Verification, error) {
	return FindVerifications(ctx, s.DB, f)
}

func (s *SQLStore) ReplaceVerification(ctx context.Context, id string, checkedIDs []string, verifiedBy string, at time.Time) (*model.Verification, error) {
	return ReplaceVerification(ctx, s.DB, id, checkedIDs, verifiedBy, at)
}

func (s *SQLStore) DeleteVerification(ctx context.Context, id string) error {
	return DeleteVerification(ctx, s.DB, id)
}

func (s *SQLStore) CreateSoldier(ctx context.Context, sol model.Soldier) (*model.Soldier, error) {
	return CreateSoldier(ctx, s.DB, sol)
}

func (s *SQLStore) GetSoldier(ctx context.Context, id string) (*model.Soldier, error) {
	return GetSoldier(ctx, s.DB, id)
}

func (s *SQLStore) ListSoldiers(ctx context.Context, division string) ([]model.Soldier, error) {
	return ListSoldiers(ctx, s.DB, division)
}

func (s *SQLStore) SaveAuditEvent(ctx context.Context, id, action, subjectID string, payload []byte, occurredAt time.Time) error {
	return SaveAuditEvent(ctx, s.DB, id, action, subjectID, payload, occurredAt)
}

func (s *SQLStore) LoadAuditEvent(ctx context.Context, id string) ([]byte, error) {
	return LoadAuditEvent(ctx, s.DB, id)
}
