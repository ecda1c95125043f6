package orchestrator

import (
	"log/slog"

	"github.com/rookie-ar/markerscene/internal/channel"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// Journal persists what the orchestrator did. storage.Backend implements it.
type Journal interface {
	RecordActivation(r *core.ActivationRecord) error
	RecordTransition(r *core.TransitionRecord) error
	RecordScene(r *core.SceneRecord) error
	RecordAnchor(r *core.AnchorRecord) error
	RecordSpawn(r *core.SpawnRecord) error
}

const journalQueueSize = 1024

// journalWriter moves journal writes off the loop. Records are dropped, not
// queued without bound, when the backend falls behind.
type journalWriter struct {
	j      Journal
	ch     *channel.Buffered[func(Journal) error]
	logger *slog.Logger
	done   chan struct{}
}

func newJournalWriter(j Journal, logger *slog.Logger) *journalWriter {
	w := &journalWriter{
		j:      j,
		ch:     channel.NewBuffered[func(Journal) error](journalQueueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *journalWriter) write(fn func(Journal) error) {
	if !w.ch.TrySend(fn) {
		w.logger.Warn("Journal queue full, dropping record")
	}
}

func (w *journalWriter) run() {
	defer close(w.done)
	for {
		select {
		case fn := <-w.ch.Receive():
			w.apply(fn)
		case <-w.ch.Done():
			for {
				select {
				case fn := <-w.ch.Receive():
					w.apply(fn)
				default:
					return
				}
			}
		}
	}
}

func (w *journalWriter) apply(fn func(Journal) error) {
	if err := fn(w.j); err != nil {
		w.logger.Error("Journal write failed", "error", err)
	}
}

// close flushes pending records and stops the writer.
func (w *journalWriter) close() {
	w.ch.Close()
	<-w.done
}
