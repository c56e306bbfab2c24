package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Database is the shared sliding-window store backed by the gateway database.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CountAndAppend(ctx context.Context, key, scope string, now time.Time, window time.Duration) (int, time.Time, error) {
	if err := d.db.WithContext(ctx).Create(&Entry{
		ClientKey: key,
		Scope:     scope,
		At:        now,
	}).Error; err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to record rate limit entry: %w", err)
	}

	cutoff := now.Add(-window)

	var count int64
	if err := d.db.WithContext(ctx).Model(&Entry{}).
		Where("client_key = ? AND scope = ? AND at > ?", key, scope, cutoff).
		Count(&count).Error; err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to count rate limit entries: %w", err)
	}

	var oldest Entry
	if err := d.db.WithContext(ctx).
		Where("client_key = ? AND scope = ? AND at > ?", key, scope, cutoff).
		Order("at ASC").
		First(&oldest).Error; err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to find oldest rate limit entry: %w", err)
	}

	return int(count), oldest.At, nil
}

func (d *Database) ActiveBlock(ctx context.Context, key, scope string, now time.Time) (time.Time, bool, error) {
	var block Block
	err := d.db.WithContext(ctx).
		Where("client_key = ? AND scope = ? AND expires_at > ?", key, scope, now).
		Order("expires_at DESC").
		First(&block).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to look up rate limit block: %w", err)
	}
	return block.ExpiresAt, true, nil
}

func (d *Database) CreateBlock(ctx context.Context, key, scope string, until time.Time) error {
	if err := d.db.WithContext(ctx).Create(&Block{
		ClientKey: key,
		Scope:     scope,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: until,
	}).Error; err != nil {
		return fmt.Errorf("failed to create rate limit block: %w", err)
	}
	return nil
}

func (d *Database) DeleteExpired(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	entries := d.db.WithContext(ctx).
		Where("at <= ?", now.Add(-window)).
		Delete(&Entry{})
	if entries.Error != nil {
		return 0, fmt.Errorf("failed to prune rate limit entries: %w", entries.Error)
	}

	blocks := d.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&Block{})
	if blocks.Error != nil {
		return entries.RowsAffected, fmt.Errorf("failed to prune rate limit blocks: %w", blocks.Error)
	}

	return entries.RowsAffected + blocks.RowsAffected, nil
}
