// Package gormstore implements the storage.Backend interface on GORM
// (SQLite or PostgreSQL) with internal queues and a background DB writer
// goroutine.
package gormstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/rookie-ar/markerscene/internal/database"
	"github.com/rookie-ar/markerscene/internal/model"
	"github.com/rookie-ar/markerscene/internal/model/convert"
	"github.com/rookie-ar/markerscene/internal/queue"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// DefaultFlushInterval is how often queued records are written.
const DefaultFlushInterval = 2 * time.Second

// Options tunes a Backend.
type Options struct {
	Logger        zerolog.Logger
	FlushInterval time.Duration
	// CloseDB closes the connection on Close. Set it when the backend owns db.
	CloseDB bool
}

// queues holds the write queues for batch DB insertion.
type queues struct {
	Transitions *queue.Queue[model.StateTransition]
	Anchors     *queue.Queue[model.AnchorSample]
	Spawns      *queue.Queue[model.SpawnRecord]
}

func newQueues() *queues {
	return &queues{
		Transitions: queue.New[model.StateTransition](),
		Anchors:     queue.New[model.AnchorSample](),
		Spawns:      queue.New[model.SpawnRecord](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
// Activations and scenes are written immediately; the high-volume records
// are queued.
type Backend struct {
	db     *gorm.DB
	opts   Options
	log    zerolog.Logger
	queues *queues

	stopChan  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	flushMu   sync.Mutex
}

// New creates a new GORM storage backend.
func New(db *gorm.DB, opts Options) *Backend {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	return &Backend{
		db:     db,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "gormstore").Logger(),
		queues: newQueues(),
	}
}

// Init runs schema migration and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if err := database.Setup(b.db, b.log); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	b.startDBWriter()
	return nil
}

// Close stops the writer after a final flush.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.stopChan != nil {
			close(b.stopChan)
			<-b.done
		}
		if b.opts.CloseDB {
			sqlDB, dbErr := b.db.DB()
			if dbErr != nil {
				err = dbErr
				return
			}
			err = sqlDB.Close()
		}
	})
	return err
}

// RecordActivation inserts the activation row.
func (b *Backend) RecordActivation(r *core.ActivationRecord) error {
	row := convert.CoreToActivation(*r)
	if err := b.db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert activation: %w", err)
	}
	return nil
}

// RecordScene fills in the scene columns of the activation row.
func (b *Backend) RecordScene(r *core.SceneRecord) error {
	res := b.db.Model(&model.Activation{}).
		Where("activation_id = ?", r.ActivationID).
		Updates(convert.SceneColumns(*r))
	if res.Error != nil {
		return fmt.Errorf("failed to update scene: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("activation %q not found", r.ActivationID)
	}
	return nil
}

// RecordTransition queues a state change.
func (b *Backend) RecordTransition(r *core.TransitionRecord) error {
	b.queues.Transitions.Push(convert.CoreToStateTransition(*r))
	return nil
}

// RecordAnchor queues an anchor sample.
func (b *Backend) RecordAnchor(r *core.AnchorRecord) error {
	b.queues.Anchors.Push(convert.CoreToAnchorSample(*r))
	return nil
}

// RecordSpawn queues a spawn outcome.
func (b *Backend) RecordSpawn(r *core.SpawnRecord) error {
	b.queues.Spawns.Push(convert.CoreToSpawnRecord(*r))
	return nil
}

// Flush writes every queued record now.
func (b *Backend) Flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	writeQueue(b.db, b.queues.Transitions, "state transitions", b.log)
	writeQueue(b.db, b.queues.Anchors, "anchor samples", b.log)
	writeQueue(b.db, b.queues.Spawns, "spawn records", b.log)
}

// Export flushes and dumps the database to path. Only SQLite supports it.
func (b *Backend) Export(path string) error {
	b.Flush()
	return database.DumpToDisk(b.db, path, b.log)
}

// writeQueue writes all items from a queue to the database in a transaction.
// Failed batches go back on the queue for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log zerolog.Logger) {
	if q.Empty() {
		return
	}

	tx := db.Begin()
	items := q.GetAndEmpty()
	if err := tx.Create(&items).Error; err != nil {
		log.Error().Err(err).Str("queue", name).Int("count", len(items)).Msg("Error writing batch")
		tx.Rollback()
		q.Push(items...)
		return
	}

	if err := tx.Commit().Error; err != nil {
		log.Error().Err(err).Str("queue", name).Msg("Error committing batch")
		q.Push(items...)
		return
	}
	log.Trace().Str("queue", name).Int("count", len(items)).Msg("Wrote batch")
}

// startDBWriter starts the background goroutine that periodically drains queues into the DB.
func (b *Backend) startDBWriter() {
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.opts.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stopChan:
				b.Flush()
				return
			case <-ticker.C:
				b.Flush()
			}
		}
	}()
}
