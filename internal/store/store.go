package store

import (
	"fmt"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/lunaria-live/lunaria/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides SQL persistence via GORM (async audit writes).
type Store struct {
	db    *gorm.DB
	logCh chan func() // buffered channel for async writes
}

// NewStore opens the database, auto-migrates schemas, seeds the gift
// catalog, and starts the background write worker.
func NewStore(driver, dsn string) (*Store, error) {
	dialector, err := dialectorFor(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" {
		// single writer; avoids SQLITE_BUSY under concurrent commits
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	// Auto-migrate
	if err := db.AutoMigrate(
		&model.Account{},
		&model.Wallet{},
		&model.ProviderProfile{},
		&model.Session{},
		&model.Transaction{},
		&model.Gift{},
		&model.SessionEvent{},
	); err != nil {
		return nil, err
	}

	if err := seedGifts(db); err != nil {
		return nil, err
	}

	s := &Store{
		db:    db,
		logCh: make(chan func(), 1024),
	}

	// Start async write worker
	go s.writeWorker()

	return s, nil
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported db driver %q", driver)
}

func (s *Store) writeWorker() {
	for fn := range s.logCh {
		fn()
	}
}

// DB returns the underlying GORM database instance.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Flush blocks until every queued async write has been applied.
func (s *Store) Flush() {
	done := make(chan struct{})
	s.logCh <- func() { close(done) }
	<-done
}

// seedGifts installs the default catalog on an empty table.
func seedGifts(db *gorm.DB) error {
	var n int64
	if err := db.Model(&model.Gift{}).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	gifts := []model.Gift{
		{Name: "Rose", Icon: "rose.png", Price: decimal.RequireFromString("1.99"), Active: true},
		{Name: "Lucky Star", Icon: "star.png", Price: decimal.RequireFromString("4.99"), Active: true},
		{Name: "Crystal Ball", Icon: "crystal.png", Price: decimal.RequireFromString("9.99"), Active: true},
		{Name: "Golden Moon", Icon: "moon.png", Price: decimal.RequireFromString("19.99"), Active: true},
	}
	return db.Create(&gifts).Error
}

// ─────────────────────────────────────────────
// Async write helpers
// ─────────────────────────────────────────────

// LogSessionEvent records a lifecycle transition off the request path.
func (s *Store) LogSessionEvent(sessionID, actorID, event, detail string) {
	s.logCh <- func() {
		ev := model.SessionEvent{
			SessionID: sessionID,
			ActorID:   actorID,
			Event:     event,
			Detail:    detail,
			CreatedAt: time.Now(),
		}
		if err := s.db.Create(&ev).Error; err != nil {
			log.Printf("[store] log session event error: %v", err)
		}
	}
}
