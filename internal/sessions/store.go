// Package sessions implements the daily session log: a date-partitioned, capped,
// retention-pruned history of chart analyses kept in a kv.Store.
//
// Each calendar day is one bucket stored as a single value under BucketPrefix+"YYYY-MM-DD".
// Every mutation reads the bucket, computes the new state and writes it back whole, under
// a process-wide mutex, so concurrent callers in the same process cannot lose updates.
package sessions

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/chartsense/internal/kv"
	"github.com/thebtf/chartsense/pkg/models"
)

const (
	// BucketPrefix namespaces day buckets in the key-value store.
	BucketPrefix = "sessions/"

	// LastRetentionKey records the date key of the last retention sweep.
	LastRetentionKey = "sessions.meta/last_retention"

	// DateLayout is the format of a bucket date key.
	DateLayout = "2006-01-02"

	DefaultMaxSessionsPerDay = 50
	DefaultMaxDaysToKeep     = 7
)

// Clock returns the current time.
type Clock func() time.Time

// Config controls capacity, retention and the store's notion of "now".
type Config struct {
	MaxSessionsPerDay int
	MaxDaysToKeep     int
	Location          *time.Location // date keys and display times; default time.Local
	Clock             Clock          // default time.Now
	OnEvent           func(Event)    // called after every successful mutation
}

// EventType names a store mutation.
type EventType string

const (
	EventSessionSaved    EventType = "session_saved"
	EventSessionsCleared EventType = "sessions_cleared"
	EventRetentionRan    EventType = "retention_ran"
)

// Event describes a completed mutation.
type Event struct {
	Type    EventType             `json:"type"`
	Date    string                `json:"date"`
	Session *models.SessionRecord `json:"session,omitempty"`
	Removed []string              `json:"removed,omitempty"`
}

// RetentionResult reports what a retention sweep did.
type RetentionResult struct {
	Cutoff       string   `json:"cutoff"`
	Removed      []string `json:"removed"`
	ClearedToday string   `json:"clearedToday"`
}

// Store is the daily session store.
type Store struct {
	kv      kv.Store
	cfg     Config
	metrics *storeMetrics

	mu     sync.Mutex
	lastID int64
}

// NewStore creates a store over backend. Zero config fields take defaults.
func NewStore(backend kv.Store, cfg Config) *Store {
	if cfg.MaxSessionsPerDay <= 0 {
		cfg.MaxSessionsPerDay = DefaultMaxSessionsPerDay
	}
	if cfg.MaxDaysToKeep <= 0 {
		cfg.MaxDaysToKeep = DefaultMaxDaysToKeep
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Store{
		kv:      backend,
		cfg:     cfg,
		metrics: newStoreMetrics(),
	}
}

// DateKey formats t as a bucket date key in loc.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// BucketKey returns the storage key of a date's bucket.
func BucketKey(date string) string {
	return BucketPrefix + date
}

// Today returns today's date key by the store's clock.
func (s *Store) Today() string {
	return DateKey(s.cfg.Clock(), s.cfg.Location)
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// Save appends a record to today's bucket and returns its id.
// The date key is computed once, at the start of the call.
func (s *Store) Save(ctx context.Context, fields models.SessionFields) (int64, error) {
	s.mu.Lock()

	now := s.cfg.Clock()
	date := DateKey(now, s.cfg.Location)

	bucket, err := s.loadBucket(ctx, date)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}

	id := s.nextID(now, bucket)
	record := models.NewSessionRecord(id, fields, now, s.cfg.Location)
	bucket = append(bucket, record)

	evicted := 0
	if over := len(bucket) - s.cfg.MaxSessionsPerDay; over > 0 {
		bucket = append([]models.SessionRecord(nil), bucket[over:]...)
		evicted = over
	}

	if err := s.storeBucket(ctx, date, bucket); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.lastID = id
	s.mu.Unlock()

	s.metrics.recordSave(ctx, evicted)
	s.emit(Event{Type: EventSessionSaved, Date: date, Session: &record})
	return id, nil
}

// List returns the bucket for date, oldest first. An empty date means today.
// A date without a bucket yields an empty slice.
func (s *Store) List(ctx context.Context, date string) ([]models.SessionRecord, error) {
	if date == "" {
		date = s.Today()
	} else if err := ValidateDate(date); err != nil {
		return nil, err
	}
	return s.loadBucket(ctx, date)
}

// Days returns the date keys of every stored bucket, ascending.
func (s *Store) Days(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, BucketPrefix)
	if err != nil {
		return nil, wrapErr("list keys", err)
	}

	days := make([]string, 0, len(keys))
	for _, k := range keys {
		if date, ok := dateFromKey(k); ok {
			days = append(days, date)
		}
	}
	return days, nil
}

// Stats aggregates every stored bucket. It returns nil when no bucket exists.
func (s *Store) Stats(ctx context.Context) (*models.SessionStats, error) {
	days, err := s.Days(ctx)
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, nil
	}

	today := s.Today()
	stats := &models.SessionStats{}
	for _, date := range days {
		bucket, err := s.loadBucket(ctx, date)
		if err != nil {
			return nil, err
		}
		stats.TotalDays++
		stats.TotalSessions += len(bucket)
		if date == today {
			stats.TodayCount = len(bucket)
		}
	}

	// days is sorted, and YYYY-MM-DD sorts in date order.
	stats.OldestDate = days[0]
	stats.NewestDate = days[len(days)-1]
	return stats, nil
}

// ClearToday deletes today's bucket only.
func (s *Store) ClearToday(ctx context.Context) error {
	s.mu.Lock()
	date := s.Today()
	err := s.kv.Delete(ctx, BucketKey(date))
	s.mu.Unlock()

	if err != nil {
		return wrapErr("clear today", err)
	}
	s.emit(Event{Type: EventSessionsCleared, Date: date})
	return nil
}

// RunRetention deletes buckets older than MaxDaysToKeep days, clears today's bucket
// and records the sweep date.
func (s *Store) RunRetention(ctx context.Context) (*RetentionResult, error) {
	s.mu.Lock()
	result, err := s.runRetentionLocked(ctx)
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	s.metrics.recordRetention(ctx, len(result.Removed))
	s.emit(Event{Type: EventRetentionRan, Date: result.ClearedToday, Removed: result.Removed})
	return result, nil
}

// Init performs the first-observation pass: when the recorded sweep date differs from
// today, it runs retention (which also clears today's bucket). Otherwise it does nothing.
func (s *Store) Init(ctx context.Context) (*RetentionResult, error) {
	s.mu.Lock()

	last, found, err := s.kv.Get(ctx, LastRetentionKey)
	if err != nil {
		s.mu.Unlock()
		return nil, wrapErr("read last retention", err)
	}
	if found && string(last) == s.Today() {
		s.mu.Unlock()
		return nil, nil
	}

	result, err := s.runRetentionLocked(ctx)
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	s.metrics.recordRetention(ctx, len(result.Removed))
	s.emit(Event{Type: EventRetentionRan, Date: result.ClearedToday, Removed: result.Removed})
	return result, nil
}

// LastRetention returns the date key of the last sweep, or "" if none ran.
func (s *Store) LastRetention(ctx context.Context) (string, error) {
	v, found, err := s.kv.Get(ctx, LastRetentionKey)
	if err != nil {
		return "", wrapErr("read last retention", err)
	}
	if !found {
		return "", nil
	}
	return string(v), nil
}

func (s *Store) runRetentionLocked(ctx context.Context) (*RetentionResult, error) {
	today := s.Today()
	todayDate, err := time.Parse(DateLayout, today)
	if err != nil {
		return nil, wrapErr("parse today", err)
	}
	cutoff := todayDate.AddDate(0, 0, -s.cfg.MaxDaysToKeep).Format(DateLayout)

	keys, err := s.kv.Keys(ctx, BucketPrefix)
	if err != nil {
		return nil, wrapErr("list keys", err)
	}

	removed := make([]string, 0)
	toDelete := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		date, ok := dateFromKey(k)
		if !ok {
			continue
		}
		if date < cutoff {
			removed = append(removed, date)
			toDelete = append(toDelete, k)
		}
	}
	toDelete = append(toDelete, BucketKey(today))

	if err := s.kv.Delete(ctx, toDelete...); err != nil {
		return nil, wrapErr("delete buckets", err)
	}
	if err := s.kv.Set(ctx, LastRetentionKey, []byte(today)); err != nil {
		return nil, wrapErr("record retention", err)
	}

	return &RetentionResult{
		Cutoff:       cutoff,
		Removed:      removed,
		ClearedToday: today,
	}, nil
}

// loadBucket reads a day bucket. A missing key is an empty bucket.
func (s *Store) loadBucket(ctx context.Context, date string) ([]models.SessionRecord, error) {
	data, found, err := s.kv.Get(ctx, BucketKey(date))
	if err != nil {
		return nil, wrapErr("read bucket", err)
	}
	bucket := make([]models.SessionRecord, 0)
	if !found || len(data) == 0 {
		return bucket, nil
	}
	if err := json.Unmarshal(data, &bucket); err != nil {
		return nil, wrapErr("decode bucket "+date, err)
	}
	return bucket, nil
}

// storeBucket writes a whole bucket as one value.
func (s *Store) storeBucket(ctx context.Context, date string, bucket []models.SessionRecord) error {
	data, err := json.Marshal(bucket)
	if err != nil {
		return wrapErr("encode bucket "+date, err)
	}
	if err := s.kv.Set(ctx, BucketKey(date), data); err != nil {
		return wrapErr("write bucket", err)
	}
	return nil
}

// nextID returns a millisecond timestamp id, bumped above every id issued so far.
// Milliseconds keep ids below 2^53, so JavaScript clients decode them exactly.
func (s *Store) nextID(now time.Time, bucket []models.SessionRecord) int64 {
	id := now.UnixMilli()
	floor := s.lastID
	if n := len(bucket); n > 0 && bucket[n-1].ID > floor {
		floor = bucket[n-1].ID
	}
	if id <= floor {
		id = floor + 1
	}
	return id
}

func (s *Store) emit(e Event) {
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(e)
	}
}

// ValidateDate checks that date is a YYYY-MM-DD key.
func ValidateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return &ValidationError{Field: "date", Reason: "expected YYYY-MM-DD", Value: date}
	}
	return nil
}

// dateFromKey extracts the date from a bucket key, rejecting keys that merely share the prefix.
func dateFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, BucketPrefix) {
		return "", false
	}
	date := strings.TrimPrefix(key, BucketPrefix)
	if ValidateDate(date) != nil {
		return "", false
	}
	return date, true
}
