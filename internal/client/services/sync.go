package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/notesync/internal/client/client"
	"github.com/dmitrijs2005/notesync/internal/client/metrics"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/notes"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/notesync/internal/logging"
)

// DrainState is the coordinator's state between drains.
type DrainState int32

const (
	StateIdle DrainState = iota
	StateDraining
)

func (s DrainState) String() string {
	if s == StateDraining {
		return "draining"
	}
	return "idle"
}

// EntryResult is the outcome of one processed outbox entry.
type EntryResult struct {
	Seq     uint64
	Action  models.Action
	NoteID  string
	Outcome string
	Failure Failure
	Err     error
}

// Conflict records an update that lost to a newer server version. Local holds
// the discarded edit; Current is the server copy now in the cache, when it
// could be fetched.
type Conflict struct {
	Seq      uint64
	NoteID   string
	Expected int64
	Local    models.Fields
	Current  *models.Note
}

type DrainResult struct {
	// Processed counts entries removed from the outbox.
	Processed int
	Results   []EntryResult
	Conflicts []Conflict
	Warnings  []string
	// Resolved maps temp ids to the server ids assigned during this drain.
	Resolved map[string]string

	Halted     bool
	HaltReason error
	Failure    Failure

	// Skipped is set when another drain was already running.
	Skipped   bool
	Remaining int
}

type SyncOptions struct {
	Log     logging.Logger
	Metrics *metrics.Recorder
	// RatePerSecond paces remote calls during a drain. Zero disables pacing.
	RatePerSecond float64
}

// TempResolvedFunc is called after a temp id has been replaced by a server id.
type TempResolvedFunc func(tempID string, note *models.Note)

type SyncService struct {
	remote  client.Client
	cache   notes.Repository
	outbox  outbox.Repository
	meta    metadata.Repository
	log     logging.Logger
	metrics *metrics.Recorder
	limiter *rate.Limiter
	now     func() time.Time

	state atomic.Int32
	stop  atomic.Bool

	mu    sync.Mutex
	hooks []TempResolvedFunc

	// queueMu serializes queue operations against the start and the
	// resolution of a create. sending is the temp id of the create
	// currently on its way to the server.
	queueMu sync.Mutex
	sending string
}

func NewSyncService(remote client.Client, cache notes.Repository, ob outbox.Repository, meta metadata.Repository, opts SyncOptions) *SyncService {
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &SyncService{
		remote:  remote,
		cache:   cache,
		outbox:  ob,
		meta:    meta,
		log:     opts.Log.With("module", "sync"),
		metrics: opts.Metrics,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

// State reports whether a drain is running.
func (s *SyncService) State() DrainState {
	return DrainState(s.state.Load())
}

// RequestStop asks a running drain to stop before its next entry. The entry
// in flight is allowed to finish.
func (s *SyncService) RequestStop() {
	if s.State() == StateDraining {
		s.stop.Store(true)
	}
}

// OnTempResolved registers fn to run whenever a queued create is assigned a
// server id.
func (s *SyncService) OnTempResolved(fn TempResolvedFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Drain replays the outbox. Only one drain runs at a time; a concurrent call
// returns a Skipped result. A drain that halts returns the halt reason as
// its error together with the partial result.
func (s *SyncService) Drain(ctx context.Context) (*DrainResult, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateDraining)) {
		s.metrics.DrainFinished(metrics.DrainSkipped, 0)
		s.log.Debug(ctx, "drain already running, skipped")
		return &DrainResult{Skipped: true}, nil
	}
	defer s.state.Store(int32(StateIdle))
	s.stop.Store(false)

	start := s.now()
	res := &DrainResult{Resolved: map[string]string{}}

	n, err := s.outbox.Drain(ctx, func(ctx context.Context, e *models.OutboxEntry) error {
		return s.process(ctx, e, res)
	})
	res.Processed = n

	if remaining, cerr := s.outbox.Count(ctx); cerr == nil {
		res.Remaining = remaining
		s.metrics.SetOutboxSize(remaining)
	}

	took := s.now().Sub(start)
	switch {
	case err == nil:
		s.metrics.DrainFinished(metrics.DrainCompleted, took)
		s.log.Info(ctx, "drain finished", "processed", n, "remaining", res.Remaining, "conflicts", len(res.Conflicts))
		return res, nil
	case errors.Is(err, ErrDrainStopped):
		res.Halted, res.HaltReason = true, err
		s.metrics.DrainFinished(metrics.DrainStopped, took)
		s.log.Info(ctx, "drain stopped", "processed", n, "remaining", res.Remaining)
		return res, err
	default:
		res.Halted, res.HaltReason, res.Failure = true, err, Classify(err)
		s.metrics.DrainFinished(metrics.DrainHalted, took)
		s.log.Warn(ctx, "drain halted", "processed", n, "remaining", res.Remaining,
			"failure", string(res.Failure), "error", err)
		return res, err
	}
}

// process applies one entry. Returning nil removes it from the outbox.
func (s *SyncService) process(ctx context.Context, e *models.OutboxEntry, res *DrainResult) error {
	if s.stop.Load() {
		return ErrDrainStopped
	}

	if e.Malformed != nil {
		s.log.Warn(ctx, "dropping malformed outbox entry", "seq", e.Seq, "error", e.Malformed)
		s.record(res, e, "", metrics.OutcomeMalformed, e.Malformed)
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	switch p := e.Payload.(type) {
	case models.CreatePayload:
		return s.applyCreate(ctx, e, p, res)
	case models.UpdatePayload:
		return s.applyUpdate(ctx, e, p, res)
	case models.DeletePayload:
		return s.applyDelete(ctx, e, p, res)
	case models.PublishPayload:
		return s.applyPublish(ctx, e, p, res)
	default:
		err := fmt.Errorf("%w: unhandled payload %T", models.ErrMalformedEntry, p)
		s.log.Warn(ctx, "dropping outbox entry", "seq", e.Seq, "error", err)
		s.record(res, e, "", metrics.OutcomeMalformed, err)
		return nil
	}
}

func (s *SyncService) applyCreate(ctx context.Context, e *models.OutboxEntry, p models.CreatePayload, res *DrainResult) error {
	live, err := s.startSending(ctx, e.Seq, p.TempID)
	if err != nil {
		return err
	}
	if !live {
		// replaced or cancelled since the drain listed it
		return nil
	}

	note, err := s.remote.Create(ctx, p.Fields)
	if err != nil {
		s.stopSending()
		return s.terminalOrHalt(ctx, e, p.TempID, err, res)
	}

	if p.MakePublic {
		public, err := s.remote.SetVisibility(ctx, note.ID, true)
		if err != nil {
			msg := fmt.Sprintf("note %s created but could not be published: %v", note.ID, err)
			res.Warnings = append(res.Warnings, msg)
			s.log.Warn(ctx, "publish after create failed", "id", note.ID, "error", err)
		} else {
			note.IsPublic = public
		}
	}

	s.resolveTemp(ctx, p.TempID, note, res)
	s.record(res, e, note.ID, metrics.OutcomeSuccess, nil)
	return nil
}

func (s *SyncService) applyUpdate(ctx context.Context, e *models.OutboxEntry, p models.UpdatePayload, res *DrainResult) error {
	id := s.resolveID(ctx, p.ID)

	note, err := s.remote.Update(ctx, id, p.Fields, p.Version)
	switch {
	case err == nil:
		s.remember(ctx, note)
		s.record(res, e, id, metrics.OutcomeSuccess, nil)
		return nil

	case errors.Is(err, client.ErrVersionConflict):
		current := s.refetch(ctx, id, err)
		res.Conflicts = append(res.Conflicts, Conflict{
			Seq:      e.Seq,
			NoteID:   id,
			Expected: p.Version,
			Local:    p.Fields,
			Current:  current,
		})
		s.log.Warn(ctx, "update lost to newer server version, local edit discarded",
			"id", id, "expected", p.Version)
		s.record(res, e, id, metrics.OutcomeConflict, err)
		return nil

	default:
		return s.terminalOrHalt(ctx, e, id, err, res)
	}
}

func (s *SyncService) applyDelete(ctx context.Context, e *models.OutboxEntry, p models.DeletePayload, res *DrainResult) error {
	id := s.resolveID(ctx, p.ID)

	err := s.remote.Delete(ctx, id)
	if err != nil && !errors.Is(err, client.ErrNotFound) {
		return s.terminalOrHalt(ctx, e, id, err, res)
	}
	s.forget(ctx, id)
	s.record(res, e, id, metrics.OutcomeSuccess, nil)
	return nil
}

func (s *SyncService) applyPublish(ctx context.Context, e *models.OutboxEntry, p models.PublishPayload, res *DrainResult) error {
	id := s.resolveID(ctx, p.ID)

	public, err := s.remote.SetVisibility(ctx, id, p.Public)
	if err != nil {
		return s.terminalOrHalt(ctx, e, id, err, res)
	}

	if cached, err := s.cache.GetByID(ctx, id); err == nil {
		cached.IsPublic = public
		s.cacheNote(ctx, cached)
	}
	s.record(res, e, id, metrics.OutcomeSuccess, nil)
	return nil
}

// terminalOrHalt drops entries the server will never accept and halts the
// drain on everything else.
func (s *SyncService) terminalOrHalt(ctx context.Context, e *models.OutboxEntry, id string, err error, res *DrainResult) error {
	switch f := Classify(err); f {
	case FailureNotFound:
		s.log.Info(ctx, "note gone on server, dropping entry", "seq", e.Seq, "action", string(e.Action), "id", id)
		s.forget(ctx, id)
		s.record(res, e, id, metrics.OutcomeNotFound, err)
		return nil
	case FailureValidationError:
		s.log.Warn(ctx, "server rejected entry, dropping", "seq", e.Seq, "action", string(e.Action), "error", err)
		if e.Action == models.ActionCreate {
			s.discardTemp(ctx, id, res)
		}
		s.record(res, e, id, metrics.OutcomeValidation, err)
		return nil
	default:
		s.record(res, e, id, metrics.OutcomeHalted, err)
		return err
	}
}

func (s *SyncService) record(res *DrainResult, e *models.OutboxEntry, id, outcome string, err error) {
	res.Results = append(res.Results, EntryResult{
		Seq:     e.Seq,
		Action:  e.Action,
		NoteID:  id,
		Outcome: outcome,
		Failure: Classify(err),
		Err:     err,
	})
	s.metrics.EntryProcessed(string(e.Action), outcome)
}

// refetch returns the server copy after a conflict and stores it in the
// cache. The copy carried by the conflict is used when present.
func (s *SyncService) refetch(ctx context.Context, id string, conflict error) *models.Note {
	var ce *client.ConflictError
	if errors.As(conflict, &ce) && ce.Current != nil {
		s.remember(ctx, ce.Current)
		return ce.Current
	}

	fr, err := s.remote.GetByID(ctx, id, "")
	if err != nil || fr.Note == nil {
		s.log.Warn(ctx, "could not refetch note after conflict", "id", id, "error", err)
		return nil
	}
	s.remember(ctx, fr.Note)
	return fr.Note
}

// startSending marks tempID as in flight, provided its create entry is
// still queued.
func (s *SyncService) startSending(ctx context.Context, seq uint64, tempID string) (bool, error) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	live, err := s.outbox.Contains(ctx, seq)
	if err != nil {
		return false, err
	}
	if live {
		s.sending = tempID
	}
	return live, nil
}

func (s *SyncService) stopSending() {
	s.queueMu.Lock()
	s.sending = ""
	s.queueMu.Unlock()
}

// inFlight reports whether the create of tempID is being sent. Callers hold
// queueMu.
func (s *SyncService) inFlight(tempID string) bool {
	return tempID != "" && s.sending == tempID
}

// resolveTemp moves every local reference from tempID to the server note.
// The cache swap and the id mapping are committed together, so a reader
// that no longer finds the temp note can always resolve its server id. A
// note deleted while its create was in flight only gets the mapping; the
// queued delete then removes it from the server.
// Local failures are logged: the server already holds the note, so the
// entry must not be replayed.
func (s *SyncService) resolveTemp(ctx context.Context, tempID string, note *models.Note, res *DrainResult) {
	res.Resolved[tempID] = note.ID

	s.queueMu.Lock()
	deleted, err := s.pendingAction(ctx, tempID, models.ActionDelete)
	if err != nil {
		s.log.Warn(ctx, "failed to check pending delete", "temp_id", tempID, "error", err)
	}
	mapOnly := deleted
	if !deleted {
		if err := s.cache.ReplaceTemp(ctx, tempID, note); err != nil {
			s.log.Error(ctx, "failed to migrate temp note in cache", "temp_id", tempID, "id", note.ID, "error", err)
			mapOnly = true
		}
	}
	if mapOnly {
		if err := s.meta.Set(ctx, metadata.TempMappingKey(tempID), []byte(note.ID)); err != nil {
			s.log.Error(ctx, "failed to persist temp id mapping", "temp_id", tempID, "id", note.ID, "error", err)
		}
	}
	s.sending = ""
	s.queueMu.Unlock()

	if deleted {
		s.log.Info(ctx, "temp note deleted while being created, delete queued", "temp_id", tempID, "id", note.ID)
		return
	}
	s.setToken(ctx, note)

	s.mu.Lock()
	hooks := append([]TempResolvedFunc(nil), s.hooks...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(tempID, note.Clone())
	}

	s.log.Info(ctx, "temp note resolved", "temp_id", tempID, "id", note.ID)
}

// discardTemp drops a note whose create the server refused, together with
// every entry still aimed at it.
func (s *SyncService) discardTemp(ctx context.Context, tempID string, res *DrainResult) {
	if _, err := s.outbox.Prune(ctx, targeting(tempID)); err != nil {
		s.log.Warn(ctx, "failed to prune entries of rejected note", "temp_id", tempID, "error", err)
	}
	s.forget(ctx, tempID)
	res.Warnings = append(res.Warnings, fmt.Sprintf("note %s was rejected by the server and discarded", tempID))
}

// pendingAction reports whether an entry of action targeting id is queued.
func (s *SyncService) pendingAction(ctx context.Context, id string, action models.Action) (bool, error) {
	entries, err := s.outbox.List(ctx)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(entries, targeting(id, action)), nil
}

// resolveID maps a temp id onto the server id it was resolved to, if any.
func (s *SyncService) resolveID(ctx context.Context, id string) string {
	if !models.IsTempID(id) {
		return id
	}
	v, err := s.meta.Get(ctx, metadata.TempMappingKey(id))
	if err != nil || len(v) == 0 {
		return id
	}
	return string(v)
}

// remember stores a server note in the cache together with its version token.
func (s *SyncService) remember(ctx context.Context, note *models.Note) {
	s.cacheNote(ctx, note)
	s.setToken(ctx, note)
}

func (s *SyncService) cacheNote(ctx context.Context, note *models.Note) {
	if err := s.cache.Put(ctx, note); err != nil {
		s.log.Error(ctx, "failed to cache note", "id", note.Key(), "error", err)
		return
	}
	if err := s.cache.UpsertSummary(ctx, note.Summary()); err != nil {
		s.log.Error(ctx, "failed to update cached list", "id", note.Key(), "error", err)
	}
}

func (s *SyncService) setToken(ctx context.Context, note *models.Note) {
	if note.ID == "" || note.Version <= 0 {
		return
	}
	token := client.VersionToken(note.Version)
	if err := s.meta.Set(ctx, metadata.VersionTokenKey(note.ID), []byte(token)); err != nil {
		s.log.Warn(ctx, "failed to store version token", "id", note.ID, "error", err)
	}
}

// forget drops every local trace of a note that no longer exists remotely.
func (s *SyncService) forget(ctx context.Context, id string) {
	if err := s.cache.Remove(ctx, id); err != nil {
		s.log.Error(ctx, "failed to remove note from cache", "id", id, "error", err)
	}
	if err := s.cache.RemoveSummary(ctx, id); err != nil {
		s.log.Error(ctx, "failed to update cached list", "id", id, "error", err)
	}
	if err := s.meta.Delete(ctx, metadata.VersionTokenKey(id)); err != nil {
		s.log.Warn(ctx, "failed to drop version token", "id", id, "error", err)
	}
}
