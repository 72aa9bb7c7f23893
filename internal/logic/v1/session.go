package v1

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/duynhne/profile-sync/internal/core/domain"
	"github.com/duynhne/profile-sync/middleware"
)

// Session is the aggregate view state for one user's profile screen: the
// cached record, the edit buffer, saving/error flags, the displayed avatar
// candidate and any open verification challenges. All mutation goes through
// discrete methods under one mutex so the engine invariants hold at every
// transition.
type Session struct {
	actor  domain.Actor
	deps   *Deps
	tuning Tuning
	logger *zap.Logger

	// ctx outlives any single request; detached writes (debounced saves,
	// asset pipeline) run against it and die with the session.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	record     *domain.ProfileRecord
	buffer     domain.EditBuffer
	editing    bool
	saving     int
	saveError  string
	displayed  domain.AssetCandidate
	challenges map[string]*domain.VerificationChallenge

	// assetGen marks the current avatar pick; stale pipeline results compare
	// against it and discard themselves.
	assetGen atomic.Int64

	coalescer *Coalescer
}

// ViewState is a point-in-time snapshot of the session for the client.
type ViewState struct {
	Record            domain.ProfileRecord                    `json:"record"`
	Buffer            domain.EditBuffer                       `json:"buffer"`
	Editing           bool                                    `json:"editing"`
	Saving            bool                                    `json:"saving"`
	SaveError         string                                  `json:"saveError,omitempty"`
	DisplayedAssetURL string                                  `json:"displayedAssetUrl"`
	Challenges        map[string]domain.VerificationChallenge `json:"challenges,omitempty"`
}

func newSession(actor domain.Actor, record *domain.ProfileRecord, deps *Deps, tuning Tuning) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		actor:      actor,
		deps:       deps,
		tuning:     tuning,
		logger:     deps.Logger.With(zap.String("user_id", actor.ID)),
		ctx:        ctx,
		cancel:     cancel,
		record:     record,
		challenges: make(map[string]*domain.VerificationChallenge),
	}
	s.coalescer = NewCoalescer(tuning.DebounceDelay, s.performSave)

	// Last known committed value; the refresh pipeline will swap in a fresh
	// verified URL without ever blanking this.
	s.displayed = domain.AssetCandidate{
		URL:   record.ProfileImage,
		State: domain.CandidateCommitted,
	}
	return s
}

// Snapshot returns the current view state.
func (s *Session) Snapshot() ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := ViewState{
		Record:            *s.record,
		Buffer:            s.buffer,
		Editing:           s.editing,
		Saving:            s.saving > 0,
		SaveError:         s.saveError,
		DisplayedAssetURL: s.displayed.URL,
	}
	if len(s.challenges) > 0 {
		out.Challenges = make(map[string]domain.VerificationChallenge, len(s.challenges))
		for field, ch := range s.challenges {
			out.Challenges[field] = *ch
		}
	}
	return out
}

// BeginEdit seeds the edit buffer from the cached record and enters edit
// mode. Re-entering is a no-op that keeps in-progress edits.
func (s *Session) BeginEdit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing {
		return
	}
	s.editing = true
	s.saveError = ""
	s.buffer = domain.NewEditBuffer(s.record)
}

// CancelEdit discards the buffer and every open challenge, and restores the
// displayed avatar to the record's last committed value. Nothing is written.
func (s *Session) CancelEdit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = false
	s.saveError = ""
	s.buffer = domain.NewEditBuffer(s.record)
	s.challenges = make(map[string]*domain.VerificationChallenge)
	s.assetGen.Add(1) // orphan any in-flight pick
	s.displayed = domain.AssetCandidate{
		URL:   s.record.ProfileImage,
		State: domain.CandidateCommitted,
	}
}

// EditField records an in-progress value in the buffer and schedules a
// debounced autosave for that field key. Sensitive identity fields never
// travel this path.
func (s *Session) EditField(field, value string) error {
	switch field {
	case domain.FieldUsername, domain.FieldEmail, domain.FieldRole:
		return fmt.Errorf("field %q requires verification: %w", field, domain.ErrValidation)
	}

	s.mu.Lock()
	switch field {
	case "fullName":
		s.buffer.FullName = value
	case "phone":
		s.buffer.Phone = value
	case "dateOfBirth":
		s.buffer.DateOfBirth = value
	case "gender":
		s.buffer.Gender = value
	case "address.country":
		s.buffer.Address.Country = value
	case "address.state":
		s.buffer.Address.State = value
	case "address.city":
		s.buffer.Address.City = value
	case "address.zip":
		s.buffer.Address.Zip = value
	default:
		s.mu.Unlock()
		return fmt.Errorf("unknown field %q: %w", field, domain.ErrValidation)
	}
	s.mu.Unlock()

	s.coalescer.Schedule(field, domain.Patch{field: value})
	return nil
}

// SetToggle writes a toggle-style setting immediately, without debouncing.
func (s *Session) SetToggle(field string, value any) error {
	switch field {
	case "notificationsEnabled", "darkMode", "language":
	default:
		return fmt.Errorf("unknown setting %q: %w", field, domain.ErrValidation)
	}
	s.coalescer.ScheduleImmediate(field, domain.Patch{field: value})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveError != "" {
		return fmt.Errorf("%w: %s", domain.ErrTransientService, s.saveError)
	}
	return nil
}

// performSave is the coalescer's write sink: one store patch per fired key.
// Failure surfaces as a transient status and never rolls back the buffer;
// the next edit re-arms a save attempt naturally.
func (s *Session) performSave(key string, patch domain.Patch) {
	ctx, span := middleware.StartSpan(s.ctx, "profile.autosave", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("field.key", key),
	))
	defer span.End()

	s.mu.Lock()
	s.saving++
	s.mu.Unlock()

	err := s.deps.Store.PatchProfile(ctx, s.actor.ID, patch)

	s.mu.Lock()
	s.saving--
	if err != nil {
		s.saveError = "Could not save changes. Your edits are kept locally."
		s.mu.Unlock()
		span.RecordError(err)
		autosaveWrites.WithLabelValues(key, "error").Inc()
		s.logger.Warn("Autosave failed", zap.String("key", key), zap.Error(err))
		return
	}
	s.saveError = ""
	s.record.Apply(patch)
	s.mu.Unlock()

	autosaveWrites.WithLabelValues(key, "ok").Inc()
	span.SetAttributes(attribute.Bool("autosave.applied", true))
}

// Close tears down the session: every pending debounce timer is canceled and
// in-flight pipeline work is abandoned so nothing writes against a dead
// session.
func (s *Session) Close() {
	s.coalescer.Close()
	s.assetGen.Add(1)
	s.cancel()
}
