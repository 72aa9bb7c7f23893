package v1

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/duynhne/profile-sync/internal/core/domain"
	"github.com/duynhne/profile-sync/middleware"
)

// Deps are the external collaborators of the sync engine.
type Deps struct {
	Store    domain.ProfileStore
	Storage  domain.AssetStorage
	Resolver domain.AssetResolver
	Verifier domain.PrefetchVerifier
	Codes    domain.VerificationService
	Logger   *zap.Logger
}

// Tuning holds the engine's timing and retry knobs. Tests shrink these.
type Tuning struct {
	DebounceDelay      time.Duration // quiet period before an autosave fires
	ResolveRetryLimit  int           // retries after the initial resolve attempt
	ResolveRetryDelay  time.Duration // delay between resolution retries
	VerifyTimeoutShort time.Duration // prefetch window inside the upload pipeline
	VerifyTimeoutLong  time.Duration // prefetch window for record-driven refresh
	ChallengeAttempts  int           // confirm-code attempts before a challenge is discarded
	PrimaryAdminEmail  string        // account whose role no path may change
}

// DefaultTuning mirrors the production constants.
func DefaultTuning() Tuning {
	return Tuning{
		DebounceDelay:      400 * time.Millisecond,
		ResolveRetryLimit:  4,
		ResolveRetryDelay:  1500 * time.Millisecond,
		VerifyTimeoutShort: 4 * time.Second,
		VerifyTimeoutLong:  6 * time.Second,
		ChallengeAttempts:  3,
	}
}

// ProfileService owns one Session per authenticated user and the engine
// dependencies they share.
type ProfileService struct {
	deps   *Deps
	tuning Tuning

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewProfileService creates the engine facade.
func NewProfileService(deps *Deps, tuning Tuning) *ProfileService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &ProfileService{
		deps:     deps,
		tuning:   tuning,
		sessions: make(map[string]*Session),
	}
}

// Session returns the live session for the actor, creating one (and loading
// the record) on first touch. Creation kicks off the asynchronous asset
// refresh so a stale signed URL is replaced without blanking the avatar.
func (s *ProfileService) Session(ctx context.Context, actor domain.Actor) (*Session, error) {
	s.mu.Lock()
	if sess, ok := s.sessions[actor.ID]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	ctx, span := middleware.StartSpan(ctx, "profile.session_open", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("user.id", actor.ID),
	))
	defer span.End()

	record, err := s.loadRecord(ctx, actor)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if record.Role != "" {
		actor.Role = record.Role
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[actor.ID]; ok { // lost the race, reuse
		return sess, nil
	}
	sess := newSession(actor, record, s.deps, s.tuning)
	s.sessions[actor.ID] = sess
	sess.RefreshAsset()

	s.deps.Logger.Info("Profile session opened", zap.String("user_id", actor.ID))
	return sess, nil
}

// Reload re-reads the authoritative record into an existing session and, if
// the asset path changed, triggers the single-attempt refresh.
func (s *ProfileService) Reload(ctx context.Context, actor domain.Actor) (*Session, error) {
	sess, err := s.Session(ctx, actor)
	if err != nil {
		return nil, err
	}

	record, err := s.deps.Store.ReadProfile(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("reload profile: %w", err)
	}

	sess.mu.Lock()
	pathChanged := record.ProfileImagePath != sess.record.ProfileImagePath
	sess.record = record
	sess.mu.Unlock()

	if pathChanged {
		sess.RefreshAsset()
	}
	return sess, nil
}

// Drop tears down the actor's session: pending debounce timers are canceled
// and in-flight pipeline work is orphaned.
func (s *ProfileService) Drop(userID string) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	delete(s.sessions, userID)
	s.mu.Unlock()
	if ok {
		sess.Close()
		s.deps.Logger.Info("Profile session closed", zap.String("user_id", userID))
	}
}

// Close tears down every session. Called on service shutdown.
func (s *ProfileService) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

// loadRecord reads the actor's record, creating an empty row on first touch
// when the store supports it.
func (s *ProfileService) loadRecord(ctx context.Context, actor domain.Actor) (*domain.ProfileRecord, error) {
	record, err := s.deps.Store.ReadProfile(ctx, actor.ID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, domain.ErrProfileNotFound) {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	if ens, ok := s.deps.Store.(interface {
		EnsureProfile(ctx context.Context, id string) error
	}); ok {
		if err := ens.EnsureProfile(ctx, actor.ID); err != nil {
			return nil, fmt.Errorf("ensure profile: %w", err)
		}
		if record, err = s.deps.Store.ReadProfile(ctx, actor.ID); err == nil {
			if record.Email == "" {
				record.Email = actor.Email
			}
			return record, nil
		}
	}

	// No row and no way to create one: serve a detached record seeded from
	// the auth identity, as a pre-signup profile screen would.
	return &domain.ProfileRecord{
		ID:    actor.ID,
		Email: actor.Email,
		Role:  domain.RoleUser,
	}, nil
}
