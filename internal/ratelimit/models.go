package ratelimit

import (
	"time"
)

// Entry is one recorded request attempt. The window count over these rows
// drives the sliding-window verdict; the pruner trims rows that have aged
// out of every window.
type Entry struct {
	ID        uint      `gorm:"primarykey"`
	ClientKey string    `gorm:"index:idx_rate_entries_lookup;size:128"`
	Scope     string    `gorm:"index:idx_rate_entries_lookup;size:32"`
	At        time.Time `gorm:"index:idx_rate_entries_lookup"`
}

func (Entry) TableName() string {
	return "rate_limit_entries"
}

// Block is an escalated penalty: while a live block exists for a client and
// scope, every request is refused without touching the window.
type Block struct {
	ID        uint   `gorm:"primarykey"`
	ClientKey string `gorm:"index:idx_rate_blocks_lookup;size:128"`
	Scope     string `gorm:"index:idx_rate_blocks_lookup;size:32"`
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

func (Block) TableName() string {
	return "rate_limit_blocks"
}
