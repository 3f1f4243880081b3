package journal

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"livebridge/internal/bus"
	"livebridge/internal/schema"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPostgresSSLMode = "disable"
	defaultQueueSize       = 4096
)

// Option defines the PostgreSQL connection and the write queue.
type Option struct {
	// ConnString is a postgres:// URL. sslmode defaults to disable.
	ConnString string
	// Params are added to the URL query, e.g. application_name.
	Params    map[string]string
	QueueSize int
	Config    *gorm.Config
}

// Store journals fills, order events and drift to PostgreSQL. Record never
// blocks the caller; rows are written by Run.
type Store struct {
	db    *gorm.DB
	queue *bus.Queue[any]

	mu      sync.Mutex
	lastErr error
}

// Open connects and migrates the journal tables.
func Open(option Option) (*Store, error) {
	connString, err := option.dsn()
	if err != nil {
		return nil, err
	}

	config := option.Config
	if config == nil {
		config = &gorm.Config{}
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}
	if err := db.AutoMigrate(&FillRow{}, &OrderEventRow{}, &DriftRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate journal")
	}
	return newStore(db, option.QueueSize), nil
}

func newStore(db *gorm.DB, queueSize int) *Store {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Store{db: db, queue: bus.NewQueue[any](queueSize)}
}

// Record queues v for writing. Values without a table are ignored and a full
// queue drops the row; see Dropped.
func (s *Store) Record(v any, tsEvent int64) {
	row, ok := toRow(v, tsEvent)
	if !ok {
		return
	}
	_ = s.queue.TryPublish(row)
}

// Run writes queued rows until ctx is done or Close drains the queue.
func (s *Store) Run(ctx context.Context) {
	s.queue.Run(ctx, s.write)
}

func (s *Store) write(row any) {
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		logs.Errorf("journal write %T: %+v", row, err)
	}
}

// Dropped returns how many rows were lost to a full queue.
func (s *Store) Dropped() uint64 {
	return s.queue.Drops()
}

// Pending returns the number of queued rows.
func (s *Store) Pending() int {
	return s.queue.Len()
}

// Err returns the last write error.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LoadFills returns every journaled fill in booking order.
func (s *Store) LoadFills(ctx context.Context) ([]schema.Fill, error) {
	var rows []FillRow
	if err := s.db.WithContext(ctx).Order("ts_event, fill_id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load fills")
	}
	fills := make([]schema.Fill, 0, len(rows))
	for _, r := range rows {
		fills = append(fills, r.Fill())
	}
	return fills, nil
}

// Close stops accepting rows. Run returns after the queue drains.
func (s *Store) Close() {
	s.queue.Close()
}

// CloseDB closes the underlying connection pool.
func (s *Store) CloseDB() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// dsn validates ConnString and applies the default sslmode and Params.
func (opt Option) dsn() (string, error) {
	if opt.ConnString == "" {
		return "", fmt.Errorf("journal dsn is empty")
	}
	u, err := url.Parse(opt.ConnString)
	if err != nil {
		return "", errors.Wrap(err, "parse journal dsn")
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("journal dsn scheme %q: want postgres", u.Scheme)
	}
	query := u.Query()
	if query.Get("sslmode") == "" {
		query.Set("sslmode", defaultPostgresSSLMode)
	}
	for key, value := range opt.Params {
		if key != "" {
			query.Set(key, value)
		}
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
