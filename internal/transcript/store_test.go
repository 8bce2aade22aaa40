package transcript

import (
	"testing"
	"time"

	"github.com/zulandar/ridechat/internal/chat"
	"github.com/zulandar/ridechat/internal/db"
	"github.com/zulandar/ridechat/internal/logger"
	"github.com/zulandar/ridechat/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	// every pooled connection to :memory: would be a separate database
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return gdb
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(StoreOpts{DB: openTestDB(t)})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func at(day, sec int) time.Time {
	return time.Date(2026, 3, day, 12, 0, sec, 0, time.UTC)
}

func atPtr(day, sec int) *time.Time {
	t := at(day, sec)
	return &t
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

func TestNewStore_RequiresDB(t *testing.T) {
	if _, err := NewStore(StoreOpts{}); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	s.MessageInserted(42, chat.Message{ID: 5, AuthorID: 2, Body: "first", CreatedAt: at(1, 0)}, chat.SourceHistory)
	s.MessageInserted(42, chat.Message{ID: 3, AuthorID: 7, Body: "second", Kind: chat.KindText, CreatedAt: at(1, 1)}, chat.SourceLive)
	s.MessageInserted(99, chat.Message{ID: 1, AuthorID: 2, Body: "other booking", CreatedAt: at(1, 2)}, chat.SourceLive)
	s.Flush()

	msgs, err := s.Load(42)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].ID != 5 || msgs[1].ID != 3 {
		t.Errorf("order = [%d %d], want arrival order [5 3]", msgs[0].ID, msgs[1].ID)
	}
	if msgs[0].Kind != chat.KindText {
		t.Errorf("Kind = %q, want text", msgs[0].Kind)
	}
	if !msgs[0].CreatedAt.Equal(at(1, 0)) {
		t.Errorf("CreatedAt = %v, want %v", msgs[0].CreatedAt, at(1, 0))
	}
}

func TestStore_DuplicateInsertKeepsOneRow(t *testing.T) {
	s := newTestStore(t)
	m := chat.Message{ID: 1, AuthorID: 2, Body: "hi", CreatedAt: at(1, 0)}
	for i := 0; i < 3; i++ {
		if err := s.Save(42, m); err != nil {
			t.Fatalf("Save #%d: %v", i, err)
		}
	}
	var count int64
	s.db.Model(&models.TranscriptMessage{}).Count(&count)
	if count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}
}

func TestStore_ReceiptPatched(t *testing.T) {
	s := newTestStore(t)
	m := chat.Message{ID: 1, AuthorID: 7, Body: "mine", CreatedAt: at(1, 0)}
	s.MessageInserted(42, m, chat.SourceLive)

	m.DeliveredAt = atPtr(1, 4)
	m.ReadAt = atPtr(1, 4)
	m.Body = "ignored on update"
	s.ReceiptPatched(42, m)
	s.Flush()

	msgs, _ := s.Load(42)
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	got := msgs[0]
	if got.DeliveredAt == nil || !got.DeliveredAt.Equal(at(1, 4)) {
		t.Errorf("DeliveredAt = %v, want %v", got.DeliveredAt, at(1, 4))
	}
	if got.ReadAt == nil || got.Status() != chat.StatusSeen {
		t.Errorf("ReadAt = %v, want set", got.ReadAt)
	}
	if got.Body != "mine" {
		t.Errorf("Body = %q, want original body kept", got.Body)
	}
}

func TestStore_CloseAppliesQueuedWrites(t *testing.T) {
	s, err := NewStore(StoreOpts{DB: openTestDB(t)})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	for id := int64(1); id <= 3; id++ {
		s.MessageInserted(42, chat.Message{ID: id, AuthorID: 2, Body: "m", CreatedAt: at(1, int(id))}, chat.SourceLive)
	}
	s.Close()

	msgs, err := s.Load(42)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("len = %d, want 3", len(msgs))
	}

	// ignored, and must not panic
	s.MessageInserted(42, chat.Message{ID: 4, AuthorID: 2}, chat.SourceLive)
	s.Flush()
	s.Close()
}

func TestStore_ObserverCallsDoNotWaitForDB(t *testing.T) {
	// No worker yet: a blocking observer call would hang here.
	s := &Store{
		db:    openTestDB(t),
		log:   logger.Nop(),
		queue: make(chan pendingWrite, 1),
		done:  make(chan struct{}),
	}
	s.MessageInserted(42, chat.Message{ID: 1, AuthorID: 2, Body: "kept", CreatedAt: at(1, 0)}, chat.SourceLive)
	s.ReceiptPatched(42, chat.Message{ID: 2, AuthorID: 7, Body: "dropped", CreatedAt: at(1, 1)})

	go s.drain()
	s.Flush()
	defer s.Close()

	msgs, err := s.Load(42)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != 1 {
		t.Errorf("messages = %+v, want only the queued one", msgs)
	}
}

func TestStore_Bookings(t *testing.T) {
	s := newTestStore(t)
	s.Save(1, chat.Message{ID: 1, AuthorID: 2, Body: "a", CreatedAt: at(1, 0)})
	s.Save(1, chat.Message{ID: 2, AuthorID: 2, Body: "b", CreatedAt: at(2, 0)})
	s.Save(2, chat.Message{ID: 1, AuthorID: 2, Body: "c", CreatedAt: at(5, 0)})

	got, err := s.Bookings()
	if err != nil {
		t.Fatalf("Bookings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].BookingID != 2 || got[1].BookingID != 1 {
		t.Errorf("order = [%d %d], want most recent first [2 1]", got[0].BookingID, got[1].BookingID)
	}
	if got[1].MessageCount != 2 || !got[1].LastSentAt.Equal(at(2, 0)) {
		t.Errorf("booking 1 summary = %+v", got[1])
	}
}

func TestStore_DeleteBefore(t *testing.T) {
	s := newTestStore(t)
	s.Save(1, chat.Message{ID: 1, AuthorID: 2, Body: "old", CreatedAt: at(1, 0)})
	s.Save(1, chat.Message{ID: 2, AuthorID: 2, Body: "new", CreatedAt: at(20, 0)})

	n, err := s.DeleteBefore(at(10, 0))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	msgs, _ := s.Load(1)
	if len(msgs) != 1 || msgs[0].ID != 2 {
		t.Errorf("remaining = %+v, want only id 2", msgs)
	}
}
