// Package transcript keeps a local copy of booking conversations so they can
// be read back offline.
package transcript

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/zulandar/ridechat/internal/chat"
	"github.com/zulandar/ridechat/internal/logger"
	"github.com/zulandar/ridechat/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// queueSize bounds the writes waiting for the worker.
const queueSize = 1024

// Store mirrors the engine's message log into the database. It implements
// chat.Observer: observer calls only queue the write, and a single worker
// applies them in order. Writes are best-effort and a failure never reaches
// the engine.
type Store struct {
	db  *gorm.DB
	log *logger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan pendingWrite
	done   chan struct{}
}

type pendingWrite struct {
	bookingID int64
	msg       chat.Message
	flushed   chan struct{} // set for Flush markers
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB     *gorm.DB
	Logger *logger.Logger
}

var _ chat.Observer = (*Store)(nil)

// NewStore creates a Store and starts its write worker. Call Close to stop
// it.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("transcript: store: db is required")
	}
	lg := opts.Logger
	if lg == nil {
		lg = logger.Nop()
	}
	s := &Store{
		db:    opts.DB,
		log:   lg,
		queue: make(chan pendingWrite, queueSize),
		done:  make(chan struct{}),
	}
	go s.drain()
	return s, nil
}

// MessageInserted queues a new message.
func (s *Store) MessageInserted(bookingID int64, m chat.Message, src chat.Source) {
	s.enqueue(pendingWrite{bookingID: bookingID, msg: m})
}

// ReceiptPatched queues updated receipt timestamps.
func (s *Store) ReceiptPatched(bookingID int64, m chat.Message) {
	s.enqueue(pendingWrite{bookingID: bookingID, msg: m})
}

// enqueue never blocks; a full queue drops the write.
func (s *Store) enqueue(w pendingWrite) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- w:
	default:
		s.log.Warn("transcript_queue_full", "message_id", w.msg.ID)
	}
}

func (s *Store) drain() {
	defer close(s.done)
	for w := range s.queue {
		if w.flushed != nil {
			close(w.flushed)
			continue
		}
		if err := s.Save(w.bookingID, w.msg); err != nil {
			s.log.Warn("transcript_save_failed", "message_id", w.msg.ID, "error", err)
		}
	}
}

// Flush blocks until every write queued before the call has been applied.
func (s *Store) Flush() {
	flushed := make(chan struct{})
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.queue <- pendingWrite{flushed: flushed}
	s.mu.RUnlock()
	<-flushed
}

// Close applies the queued writes and stops the worker. Observer calls
// after Close are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
}

// Save upserts m. An existing row only has its receipt timestamps updated.
func (s *Store) Save(bookingID int64, m chat.Message) error {
	row := models.TranscriptMessage{
		BookingID:   bookingID,
		MessageID:   m.ID,
		AuthorID:    m.AuthorID,
		Body:        m.Body,
		Kind:        string(m.Kind),
		SentAt:      m.CreatedAt,
		DeliveredAt: m.DeliveredAt,
		ReadAt:      m.ReadAt,
	}
	if row.Kind == "" {
		row.Kind = string(chat.KindText)
	}
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "booking_id"}, {Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"delivered_at", "read_at", "updated_at"}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("transcript: save message %d: %w", m.ID, result.Error)
	}
	return nil
}

// Load returns the cached messages of a booking in arrival order.
func (s *Store) Load(bookingID int64) ([]chat.Message, error) {
	var rows []models.TranscriptMessage
	if err := s.db.Where("booking_id = ?", bookingID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("transcript: load booking %d: %w", bookingID, err)
	}
	out := make([]chat.Message, len(rows))
	for i, r := range rows {
		out[i] = chat.Message{
			ID:          r.MessageID,
			AuthorID:    r.AuthorID,
			Body:        r.Body,
			Kind:        chat.Kind(r.Kind),
			CreatedAt:   r.SentAt,
			DeliveredAt: r.DeliveredAt,
			ReadAt:      r.ReadAt,
		}
	}
	return out, nil
}

// Bookings summarizes every cached booking, most recent first.
func (s *Store) Bookings() ([]models.BookingSummary, error) {
	var counts []struct {
		BookingID    int64
		MessageCount int64
	}
	err := s.db.Model(&models.TranscriptMessage{}).
		Select("booking_id, COUNT(*) AS message_count").
		Group("booking_id").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("transcript: list bookings: %w", err)
	}

	out := make([]models.BookingSummary, 0, len(counts))
	for _, c := range counts {
		var last models.TranscriptMessage
		if err := s.db.Where("booking_id = ?", c.BookingID).Order("sent_at DESC").First(&last).Error; err != nil {
			return nil, fmt.Errorf("transcript: latest message of booking %d: %w", c.BookingID, err)
		}
		out = append(out, models.BookingSummary{
			BookingID:    c.BookingID,
			MessageCount: c.MessageCount,
			LastSentAt:   last.SentAt,
		})
	}
	slices.SortFunc(out, func(a, b models.BookingSummary) int {
		return b.LastSentAt.Compare(a.LastSentAt)
	})
	return out, nil
}

// DeleteBefore removes messages sent before cutoff and returns how many
// rows were deleted.
func (s *Store) DeleteBefore(cutoff time.Time) (int64, error) {
	result := s.db.Where("sent_at < ?", cutoff).Delete(&models.TranscriptMessage{})
	if result.Error != nil {
		return 0, fmt.Errorf("transcript: delete before %s: %w", cutoff.Format(time.RFC3339), result.Error)
	}
	return result.RowsAffected, nil
}
