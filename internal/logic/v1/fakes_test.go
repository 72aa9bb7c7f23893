package v1

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/duynhne/profile-sync/internal/core/domain"
)

// fakeStore is an in-memory domain.ProfileStore recording every patch.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*domain.ProfileRecord
	patches []recordedPatch
	failing bool
}

type recordedPatch struct {
	ID    string
	Patch domain.Patch
}

func newFakeStore(records ...*domain.ProfileRecord) *fakeStore {
	s := &fakeStore{records: make(map[string]*domain.ProfileRecord)}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeStore) ReadProfile(_ context.Context, id string) (*domain.ProfileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, domain.ErrTransientService
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) ReadProfileByEmail(_ context.Context, email string) (*domain.ProfileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.Email == email {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, domain.ErrProfileNotFound
}

func (s *fakeStore) PatchProfile(_ context.Context, id string, patch domain.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return fmt.Errorf("store down: %w", domain.ErrTransientService)
	}
	rec, ok := s.records[id]
	if !ok {
		return domain.ErrProfileNotFound
	}
	rec.Apply(patch)
	s.patches = append(s.patches, recordedPatch{ID: id, Patch: patch})
	return nil
}

func (s *fakeStore) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func (s *fakeStore) patchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patches)
}

func (s *fakeStore) lastPatch() (recordedPatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.patches) == 0 {
		return recordedPatch{}, false
	}
	return s.patches[len(s.patches)-1], true
}

func (s *fakeStore) record(id string) domain.ProfileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.records[id]
}

// fakeStorage scripts upload results.
type fakeStorage struct {
	mu      sync.Mutex
	result  *domain.UploadResult
	err     error
	uploads int
	deletes int
}

func (s *fakeStorage) UploadAsset(_ context.Context, _, _ string) (*domain.UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *fakeStorage) DeleteAsset(_ context.Context, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	return nil
}

// fakeResolver returns scripted answers in order, repeating the last one.
type fakeResolver struct {
	mu       sync.Mutex
	answers  []resolverAnswer
	attempts int
}

type resolverAnswer struct {
	url string
	ok  bool
}

func (r *fakeResolver) GetFreshAssetURL(_ context.Context, _ string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if len(r.answers) == 0 {
		return "", false
	}
	a := r.answers[0]
	if len(r.answers) > 1 {
		r.answers = r.answers[1:]
	}
	return a.url, a.ok
}

func (r *fakeResolver) attemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// fakeVerifier reports verdicts per URL; unknown URLs fail. An optional gate
// blocks until released, to model a slow CDN.
type fakeVerifier struct {
	mu       sync.Mutex
	verdicts map[string]bool
	gate     chan struct{}
}

func (v *fakeVerifier) Verify(ctx context.Context, url string, _ time.Duration) bool {
	v.mu.Lock()
	gate := v.gate
	verdict := v.verdicts[url]
	v.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return false
		}
	}
	return verdict
}

// fakeCodes scripts the verification service and counts calls.
type fakeCodes struct {
	mu          sync.Mutex
	requestErr  error
	confirmErrs []error       // consumed in order; nil entry = success
	confirmGate chan struct{} // when set, ConfirmChangeCode blocks until closed
	requests    int
	confirms    int
	lastPurpose string
}

func (c *fakeCodes) RequestChangeCode(_ context.Context, _, _, purpose string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	c.lastPurpose = purpose
	return c.requestErr
}

func (c *fakeCodes) ConfirmChangeCode(_ context.Context, _, _, _ string) error {
	c.mu.Lock()
	c.confirms++
	gate := c.confirmGate
	var err error
	if len(c.confirmErrs) > 0 {
		err = c.confirmErrs[0]
		c.confirmErrs = c.confirmErrs[1:]
	}
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (c *fakeCodes) calls() (requests, confirms int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests, c.confirms
}

// testEnv bundles the engine with all fakes and fast tuning.
type testEnv struct {
	store    *fakeStore
	storage  *fakeStorage
	resolver *fakeResolver
	verifier *fakeVerifier
	codes    *fakeCodes
	service  *ProfileService
}

func testRecord() *domain.ProfileRecord {
	return &domain.ProfileRecord{
		ID:       "42",
		FullName: "Ana Reyes",
		Username: "anar",
		Email:    "ana@example.com",
		Role:     domain.RoleUser,
	}
}

func newTestEnv(records ...*domain.ProfileRecord) *testEnv {
	if len(records) == 0 {
		records = []*domain.ProfileRecord{testRecord()}
	}
	env := &testEnv{
		store:    newFakeStore(records...),
		storage:  &fakeStorage{result: &domain.UploadResult{Path: "avatars/42.jpg", URL: "https://cdn.example/raw/42.jpg"}},
		resolver: &fakeResolver{},
		verifier: &fakeVerifier{verdicts: make(map[string]bool)},
		codes:    &fakeCodes{},
	}
	env.service = NewProfileService(&Deps{
		Store:    env.store,
		Storage:  env.storage,
		Resolver: env.resolver,
		Verifier: env.verifier,
		Codes:    env.codes,
	}, Tuning{
		DebounceDelay:      40 * time.Millisecond,
		ResolveRetryLimit:  4,
		ResolveRetryDelay:  10 * time.Millisecond,
		VerifyTimeoutShort: 50 * time.Millisecond,
		VerifyTimeoutLong:  80 * time.Millisecond,
		ChallengeAttempts:  3,
		PrimaryAdminEmail:  "root@example.com",
	})
	return env
}

func (e *testEnv) session(actor domain.Actor) *Session {
	sess, err := e.service.Session(context.Background(), actor)
	if err != nil {
		panic(err)
	}
	return sess
}

func userActor() domain.Actor {
	return domain.Actor{ID: "42", Email: "ana@example.com", Role: domain.RoleUser}
}
