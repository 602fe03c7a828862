package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/model"
)

// Clock supplies timestamps for committed changes.
type Clock interface {
	Now() time.Time
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// JobView is a read-only copy of one job's reconciled state.
type JobView struct {
	Job     model.Job       `json:"job"`
	Tables  []TableProgress `json:"tables"`
	Summary Summary         `json:"summary"`
	// Synced is set once a snapshot has listed the job's requested tables.
	Synced bool `json:"synced"`
}

// Done reports whether every requested table of the job is terminal. A job
// known only from streamed events is never done, since tables it has not
// reported on yet are missing from the rollup.
func (v JobView) Done() bool {
	return v.Synced && v.Summary.Done()
}

// Store owns the reconciled per-table progress of every observed job. The
// snapshot fetcher and the event channel both write through ApplySnapshot and
// ApplyEvent; calls are serialized so each runs to completion before another
// producer's update is merged. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*jobState
	order   []string
	emitter Emitter
	clock   Clock
	logger  *zap.Logger
}

type jobState struct {
	meta   model.Job
	synced bool
	order  []string
	tables map[string]*TableProgress
}

// Option configures a Store.
type Option func(*Store)

// WithEmitter publishes every committed Change to e.
func WithEmitter(e Emitter) Option {
	return func(s *Store) { s.emitter = e }
}

// WithClock overrides the clock used to stamp changes.
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore constructs an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		jobs:  make(map[string]*jobState),
		clock: clockFunc(func() time.Time { return time.Now().UTC() }),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// ApplySnapshot merges a full jobs listing. For each job it registers every
// requested table, replays the job's recorded progress history, and then
// applies the table results, which win over any in-flight state.
func (s *Store) ApplySnapshot(snap model.JobsSnapshot) []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []Change
	for _, job := range snap.Jobs {
		if job.ID == "" {
			s.logger.Debug("skipping snapshot job without id")
			continue
		}
		js := s.ensureJob(job.ID)
		js.synced = true
		prevErr := js.meta.Error
		js.meta = jobMeta(job)
		if js.meta.Error == "" {
			js.meta.Error = prevErr
		}

		var changes []Change
		for _, table := range job.Tables {
			_, created := js.ensureTable(job.ID, table, s.now())
			changes = appendChange(changes, created)
		}
		for _, res := range job.Results {
			_, created := js.ensureTable(job.ID, res.Name, s.now())
			changes = appendChange(changes, created)
		}
		changes = append(changes, s.applyPolling(js, job)...)
		for _, evt := range job.Progress {
			if evt.JobID == "" {
				evt.JobID = job.ID
			}
			if evt.JobID != job.ID || evt.Validate() != nil {
				continue
			}
			changes = append(changes, s.applyEvent(js, evt)...)
		}
		for _, res := range job.Results {
			changes = appendChange(changes, s.applyResult(js, res))
		}
		all = append(all, s.finish(js, changes)...)
	}
	return all
}

// ApplyEvent merges one streamed progress event. Events for a job the store
// has not seen yet create it; the next snapshot fills in its metadata.
func (s *Store) ApplyEvent(evt model.ProgressEvent) []Change {
	if err := evt.Validate(); err != nil {
		s.logger.Debug("discarding invalid progress event", zap.Error(err))
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	js := s.ensureJob(evt.JobID)
	return s.finish(js, s.applyEvent(js, evt))
}

// State returns a copy of the per-table progress map for jobID.
func (s *Store) State(jobID string) (map[string]TableProgress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	js, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	out := make(map[string]TableProgress, len(js.tables))
	for name, tp := range js.tables {
		out[name] = tp.Clone()
	}
	return out, true
}

// Tables returns jobID's tables in display order: requested tables first,
// then any others in the order they were first observed.
func (s *Store) Tables(jobID string) []TableProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	js, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	return js.list()
}

// Summary returns the current rollup for jobID.
func (s *Store) Summary(jobID string) (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	js, ok := s.jobs[jobID]
	if !ok {
		return Summary{}, false
	}
	return Summarize(js.list()), true
}

// Job returns the reconciled view of a single job.
func (s *Store) Job(jobID string) (JobView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	js, ok := s.jobs[jobID]
	if !ok {
		return JobView{}, false
	}
	return js.view(), true
}

// Jobs returns every job in the order it was first observed.
func (s *Store) Jobs() []JobView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobView, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id].view())
	}
	return out
}

func (s *Store) now() time.Time {
	return s.clock.Now()
}

func (s *Store) ensureJob(jobID string) *jobState {
	if js, ok := s.jobs[jobID]; ok {
		return js
	}
	js := &jobState{
		meta:   model.Job{ID: jobID, Status: model.JobStatusRunning},
		tables: make(map[string]*TableProgress),
	}
	s.jobs[jobID] = js
	s.order = append(s.order, jobID)
	return js
}

// finish stamps the post-mutation rollup on the job's changes and emits them.
func (s *Store) finish(js *jobState, changes []Change) []Change {
	if len(changes) == 0 {
		return nil
	}
	summary := Summarize(js.list())
	for i := range changes {
		changes[i].Summary = summary
		if s.emitter != nil {
			s.emitter.Emit(changes[i])
		}
	}
	return changes
}

func (s *Store) applyPolling(js *jobState, job model.Job) []Change {
	var changes []Change
	for _, name := range js.order {
		cur := js.tables[name]
		next := cur.Clone()
		next.Polling = job.Polling(name)
		changes = appendChange(changes, s.commit(js.meta.ID, cur, next))
	}
	return changes
}

func (s *Store) applyEvent(js *jobState, evt model.ProgressEvent) []Change {
	if evt.Table == "" || evt.Kind == model.KindJobCompleted {
		if evt.Kind == model.KindError && js.meta.Error == "" {
			js.meta.Error = evt.Message
		}
		return nil
	}
	cur, created := js.ensureTable(js.meta.ID, evt.Table, s.now())
	changes := appendChange(nil, created)

	if evt.Kind == model.KindCDCUpdate {
		return appendChange(changes, s.commit(js.meta.ID, cur, applyCDC(*cur, evt)))
	}
	if cur.Status.Terminal() {
		return changes
	}
	return appendChange(changes, s.commit(js.meta.ID, cur, mergeEvent(*cur, evt)))
}

// applyResult settles a table from its final result. A table already terminal
// keeps its status, rows and error; the result is only attached as an
// annotation, so a late result never reopens or rewrites a finished table.
func (s *Store) applyResult(js *jobState, res model.TableResult) *Change {
	cur := js.tables[res.Name]
	next := cur.Clone()
	result := res
	next.Result = &result
	if !cur.Status.Terminal() {
		if res.Failed() {
			next.Status = StatusFailed
			next.Error = res.Error
		} else {
			next.Status = StatusCompleted
			next.Error = ""
		}
		next.CurrentRows = res.Rows
		next.Percentage = 100
	}
	return s.commit(js.meta.ID, cur, next)
}

// commit stores next if it differs from cur and returns the resulting Change.
func (s *Store) commit(jobID string, cur *TableProgress, next TableProgress) *Change {
	if cur.sameAs(next) {
		return nil
	}
	at := s.now()
	prev := cur.Clone()
	next.UpdatedAt = at
	*cur = next
	return &Change{
		JobID:    jobID,
		Table:    next.Table,
		Previous: &prev,
		Current:  next.Clone(),
		At:       at,
	}
}

// mergeEvent applies one event to a non-terminal table. Counts and percentage
// never decrease, absent fields keep their stored value, and an event older
// than the latest applied one cannot change the in-flight phase.
func mergeEvent(cur TableProgress, evt model.ProgressEvent) TableProgress {
	next := cur.Clone()
	target := eventStatus(evt)
	stale := isStale(cur.LatestUpdate, evt)
	if stale && target.InFlight() && cur.Status.InFlight() {
		target = cur.Status
	}
	next.Status = Transition(cur.Status, target)

	if rows, ok := evt.Rows(); ok && rows > next.CurrentRows {
		next.CurrentRows = rows
	}
	if evt.TotalRows != nil && *evt.TotalRows > 0 {
		next.TotalRows = ptr(*evt.TotalRows)
	}
	if evt.Percentage != nil && *evt.Percentage > next.Percentage {
		next.Percentage = *evt.Percentage
	}
	switch next.Status {
	case StatusCompleted:
		next.Percentage = 100
		next.Error = ""
	case StatusFailed:
		next.Error = evt.Message
		if next.Error == "" {
			next.Error = "table failed"
		}
	}
	if !stale || next.Status.Terminal() {
		latest := cloneEvent(evt)
		next.LatestUpdate = &latest
	}
	return next
}

// applyCDC records incremental polling rows. It never touches status, rows,
// or percentage, and ignores events at or before the last one counted so that
// duplicates and replayed history are not double counted.
func applyCDC(cur TableProgress, evt model.ProgressEvent) TableProgress {
	next := cur.Clone()
	if !evt.Timestamp.After(cur.LastCDCAt) {
		return next
	}
	if rows, ok := evt.Rows(); ok {
		next.CDCRows += rows
	}
	next.LastCDCAt = evt.Timestamp.UTC()
	return next
}

func eventStatus(evt model.ProgressEvent) Status {
	switch evt.Kind {
	case model.KindError:
		return StatusFailed
	case model.KindCompleted:
		return StatusCompleted
	}
	if st, err := ParseStatus(evt.Phase); err == nil && st.InFlight() {
		return st
	}
	if st, err := ParseStatus(string(evt.Kind)); err == nil && st.InFlight() {
		return st
	}
	return StatusExtracting
}

func isStale(latest *model.ProgressEvent, evt model.ProgressEvent) bool {
	if latest == nil || latest.Timestamp.IsZero() || evt.Timestamp.IsZero() {
		return false
	}
	return evt.Timestamp.Before(latest.Timestamp)
}

func jobMeta(job model.Job) model.Job {
	meta := job
	meta.Tables = append([]string(nil), job.Tables...)
	meta.TableConfigs = append([]model.TableConfig(nil), job.TableConfigs...)
	meta.Results = nil
	meta.Progress = nil
	return meta
}

func (js *jobState) ensureTable(jobID, table string, at time.Time) (*TableProgress, *Change) {
	if tp, ok := js.tables[table]; ok {
		return tp, nil
	}
	tp := newTableProgress(table)
	tp.UpdatedAt = at
	js.tables[table] = &tp
	js.order = append(js.order, table)
	return &tp, &Change{JobID: jobID, Table: table, Current: tp.Clone(), At: at}
}

func (js *jobState) list() []TableProgress {
	seen := make(map[string]struct{}, len(js.tables))
	out := make([]TableProgress, 0, len(js.tables))
	for _, name := range js.meta.Tables {
		if _, dup := seen[name]; dup {
			continue
		}
		if tp, ok := js.tables[name]; ok {
			seen[name] = struct{}{}
			out = append(out, tp.Clone())
		}
	}
	for _, name := range js.order {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, js.tables[name].Clone())
	}
	return out
}

func (js *jobState) view() JobView {
	tables := js.list()
	meta := js.meta
	meta.Tables = append([]string(nil), js.meta.Tables...)
	meta.TableConfigs = append([]model.TableConfig(nil), js.meta.TableConfigs...)
	return JobView{Job: meta, Tables: tables, Summary: Summarize(tables), Synced: js.synced}
}

func appendChange(changes []Change, c *Change) []Change {
	if c == nil {
		return changes
	}
	return append(changes, *c)
}
