package headless

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/rookie-ar/markerscene/internal/engine"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// Library is a mutable reference image library.
type Library struct {
	tracker *Tracker
	mu      sync.Mutex
	images  map[string]float64 // name -> physical width
}

func (l *Library) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.images)
}

// Names returns the registered image names, sorted.
func (l *Library) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.images))
	for n := range l.images {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ScheduleAddImage validates the request and returns a job that finishes
// after the tracker's configured delay.
func (l *Library) ScheduleAddImage(img image.Image, name string, widthM float64) (engine.Job, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("image %q has no pixels", name)
	}
	l.tracker.mu.Lock()
	delay := l.tracker.jobDelay
	failure := l.tracker.failures[name]
	l.tracker.scheduled++
	l.tracker.mu.Unlock()

	j := &job{done: make(chan struct{}), err: failure}
	j.finish = func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.images[name] = widthM
	}
	if delay <= 0 {
		close(j.done)
	} else {
		time.AfterFunc(delay, func() { close(j.done) })
	}
	return j, nil
}

type job struct {
	done   chan struct{}
	err    error
	finish func()
	once   sync.Once
}

func (j *job) Done() <-chan struct{} {
	return j.done
}

func (j *job) Complete() error {
	<-j.done
	if j.err != nil {
		return j.err
	}
	j.once.Do(j.finish)
	return nil
}

// Tracker is an in-memory image tracker. Events are injected with Emit.
type Tracker struct {
	mu        sync.Mutex
	library   engine.ReferenceLibrary
	subs      map[int]func(core.TrackedImagesChanged)
	nextSub   int
	jobDelay  time.Duration
	failures  map[string]error
	created   int
	scheduled int
}

// NewTracker creates a tracker with no reference library installed.
func NewTracker() *Tracker {
	return &Tracker{
		subs:     make(map[int]func(core.TrackedImagesChanged)),
		failures: make(map[string]error),
	}
}

// SetJobDelay makes registration jobs finish after d.
func (t *Tracker) SetJobDelay(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobDelay = d
}

// FailRegistration makes jobs for name complete with err.
func (t *Tracker) FailRegistration(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[name] = err
}

func (t *Tracker) ReferenceLibrary() engine.ReferenceLibrary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.library
}

func (t *Tracker) CreateRuntimeLibrary() (engine.MutableLibrary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.created++
	return &Library{tracker: t, images: make(map[string]float64)}, nil
}

func (t *Tracker) SetReferenceLibrary(lib engine.ReferenceLibrary) error {
	if lib == nil {
		return errors.New("nil reference library")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.library = lib
	return nil
}

type subscription struct {
	t  *Tracker
	id int
}

func (s subscription) Unsubscribe() {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	delete(s.t.subs, s.id)
}

func (t *Tracker) Subscribe(fn func(core.TrackedImagesChanged)) engine.Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSub++
	t.subs[t.nextSub] = fn
	return subscription{t: t, id: t.nextSub}
}

// Emit delivers evt to every subscriber, in subscription order.
func (t *Tracker) Emit(evt core.TrackedImagesChanged) {
	t.mu.Lock()
	ids := make([]int, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(core.TrackedImagesChanged), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, t.subs[id])
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(evt)
	}
}

// Subscribers returns the number of live subscriptions.
func (t *Tracker) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Scheduled returns how many registration jobs were scheduled.
func (t *Tracker) Scheduled() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scheduled
}

// LibrariesCreated returns how many runtime libraries were created.
func (t *Tracker) LibrariesCreated() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.created
}

var _ engine.ImageTracker = (*Tracker)(nil)
