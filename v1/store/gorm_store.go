package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultGormTableName = "stockyard_kv_store"
	defaultGormOpTimeout = 5 * time.Second
)

// gormKV is the internal model used to store key-value pairs in the database.
type gormKV struct {
	Key   string `gorm:"primaryKey;column:key_id"`
	Value []byte `gorm:"column:value"`
}

// GormStore implements Store using a GORM backend.
type GormStore[T any] struct {
	db        *gorm.DB
	tableName string
	timeout   time.Duration
	codec     Codec
}

// GormOption configures a GormStore.
type GormOption func(*gormStoreOptions)

type gormStoreOptions struct {
	tableName string
	timeout   time.Duration
	codec     Codec
}

// WithGormTableName sets the table name for the GormStore.
func WithGormTableName(name string) GormOption {
	return func(o *gormStoreOptions) { o.tableName = name }
}

// WithGormTimeout sets the operation timeout for GORM calls.
func WithGormTimeout(d time.Duration) GormOption {
	return func(o *gormStoreOptions) { o.timeout = d }
}

// WithGormCodec sets the codec for serialization.
func WithGormCodec(c Codec) GormOption {
	return func(o *gormStoreOptions) { o.codec = c }
}

// NewGormStore returns a new GormStore using the provided GORM DB connection.
func NewGormStore[T any](db *gorm.DB, opts ...GormOption) *GormStore[T] {
	o := gormStoreOptions{
		tableName: defaultGormTableName,
		timeout:   defaultGormOpTimeout,
		codec:     JSONCodec{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	if !db.Migrator().HasTable(o.tableName) {
		_ = db.Table(o.tableName).AutoMigrate(&gormKV{})
	}

	return &GormStore[T]{
		db:        db,
		tableName: o.tableName,
		timeout:   o.timeout,
		codec:     o.codec,
	}
}

// Get implements Store.Get.
func (s *GormStore[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var kv gormKV
	err := s.db.WithContext(cctx).Table(s.tableName).First(&kv, "key_id = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}

	var v T
	if err := s.codec.Unmarshal(kv.Value, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set implements Store.Set.
func (s *GormStore[T]) Set(ctx context.Context, key string, value T) error {
	data, err := s.codec.Marshal(value)
	if err != nil {
		return err
	}
	kv := gormKV{Key: key, Value: data}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.db.WithContext(cctx).Table(s.tableName).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&kv).Error
}

// Keys implements Store.Keys.
func (s *GormStore[T]) Keys(ctx context.Context) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var keys []string
	if err := s.db.WithContext(cctx).Table(s.tableName).Pluck("key_id", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}
