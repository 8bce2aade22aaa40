package models

import "time"

// TranscriptMessage is a locally cached chat message. Rows are keyed by the
// server message id within a booking and only ever gain receipt timestamps.
type TranscriptMessage struct {
	ID          uint       `gorm:"primaryKey;autoIncrement"` // local arrival order
	BookingID   int64      `gorm:"not null;uniqueIndex:idx_booking_message"`
	MessageID   int64      `gorm:"not null;uniqueIndex:idx_booking_message"`
	AuthorID    int64      `gorm:"not null;index"`
	Body        string     `gorm:"type:text;not null"`
	Kind        string     `gorm:"size:16;default:text"`
	SentAt      time.Time  `gorm:"not null;index"` // server createdAt
	DeliveredAt *time.Time
	ReadAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BookingSummary is an aggregate row over one booking's cached transcript.
type BookingSummary struct {
	BookingID    int64
	MessageCount int64
	LastSentAt   time.Time
}
