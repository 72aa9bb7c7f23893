package v1

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/duynhne/profile-sync/internal/core/domain"
	"github.com/duynhne/profile-sync/middleware"
)

// PickAvatar starts the upload pipeline for a freshly picked local image.
// The local device URI is committed immediately as an optimistic preview
// (the one candidate exempt from prefetch verification: it is the user's own
// file, not a third-party URL); everything after that runs detached and is
// superseded the moment a newer pick bumps the generation.
func (s *Session) PickAvatar(localURI string) {
	gen := s.assetGen.Add(1)

	s.mu.Lock()
	s.displayed = domain.AssetCandidate{
		URL:   localURI,
		Local: true,
		State: domain.CandidateProposed,
	}
	s.mu.Unlock()
	assetCommits.WithLabelValues("local").Inc()

	go s.runUploadPipeline(gen, localURI)
}

func (s *Session) runUploadPipeline(gen int64, localURI string) {
	ctx, span := middleware.StartSpan(s.ctx, "profile.avatar_upload", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	result, err := s.deps.Storage.UploadAsset(ctx, s.actor.ID, localURI)
	if err != nil {
		// Keep the optimistic preview; the user retries by picking again.
		span.RecordError(err)
		s.mu.Lock()
		s.saveError = "Could not upload the new photo."
		s.mu.Unlock()
		s.logger.Warn("Avatar upload failed", zap.Error(err))
		return
	}
	if !s.pickCurrent(gen) {
		return
	}

	// Persist the new asset reference on the record regardless of how long
	// CDN propagation takes; the display URL catches up below.
	patch := domain.Patch{"profileImagePath": result.Path, "profileImage": result.URL}
	if err := s.deps.Store.PatchProfile(ctx, s.actor.ID, patch); err != nil {
		span.RecordError(err)
		s.logger.Warn("Avatar reference patch failed", zap.Error(err))
	} else {
		s.mu.Lock()
		s.record.Apply(patch)
		s.mu.Unlock()
	}

	// Attempt 1: fresh signed URL, short verify window.
	if url, ok := s.resolveAndVerify(ctx, gen, result.Path, s.tuning.VerifyTimeoutShort); ok {
		s.commitCandidate(gen, url, "resolved")
		return
	}

	// Fallback: the raw URL the upload returned may already be live.
	if result.URL != "" && s.pickCurrent(gen) &&
		s.deps.Verifier.Verify(ctx, result.URL, s.tuning.VerifyTimeoutShort) {
		s.commitCandidate(gen, result.URL, "raw")
		return
	}

	// Bounded retries absorb storage/CDN propagation delay. Attempts are
	// strictly sequential; each delay and each verify re-checks the pick.
	for attempt := 0; attempt < s.tuning.ResolveRetryLimit; attempt++ {
		if !s.sleep(ctx, s.tuning.ResolveRetryDelay) || !s.pickCurrent(gen) {
			return
		}
		if url, ok := s.resolveAndVerify(ctx, gen, result.Path, s.tuning.VerifyTimeoutShort); ok {
			s.commitCandidate(gen, url, "resolved")
			return
		}
	}

	// Exhausted: keep the optimistic preview and stay silent. The image
	// self-corrects on the next load; propagation delay is not an error.
	assetExhausted.Inc()
	span.SetAttributes(attribute.Bool("asset.exhausted", true))
	s.logger.Debug("Avatar resolution exhausted, keeping optimistic preview",
		zap.String("path", result.Path),
	)
}

// RefreshAsset runs when the authoritative record's asset path changes (a
// reload, another device). One resolve + one long verify; on failure the
// currently shown asset is retained rather than blanked.
func (s *Session) RefreshAsset() {
	s.mu.Lock()
	path := s.record.ProfileImagePath
	s.mu.Unlock()
	if path == "" {
		return
	}
	gen := s.assetGen.Load()

	go func() {
		if url, ok := s.resolveAndVerify(s.ctx, gen, path, s.tuning.VerifyTimeoutLong); ok {
			s.commitCandidate(gen, url, "refresh")
		}
	}()
}

// AvatarDisplayError handles a committed image failing to render at paint
// time: a single fresh-URL-and-verify attempt, then a non-image placeholder.
// No unbounded retrying.
func (s *Session) AvatarDisplayError() {
	s.mu.Lock()
	path := s.record.ProfileImagePath
	s.mu.Unlock()
	gen := s.assetGen.Load()

	if path != "" {
		if url, ok := s.resolveAndVerify(s.ctx, gen, path, s.tuning.VerifyTimeoutShort); ok {
			s.commitCandidate(gen, url, "recovery")
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assetGen.Load() != gen {
		return
	}
	// Empty URL renders as initials/icon on the client.
	s.displayed = domain.AssetCandidate{State: domain.CandidateRejected}
}

// DeleteAvatar removes the stored asset and clears the displayed image.
func (s *Session) DeleteAvatar(ctx context.Context) error {
	s.mu.Lock()
	path := s.record.ProfileImagePath
	s.mu.Unlock()

	if path != "" {
		if err := s.deps.Storage.DeleteAsset(ctx, s.actor.ID, path); err != nil {
			return err
		}
	}
	patch := domain.Patch{"profileImage": "", "profileImagePath": ""}
	if err := s.deps.Store.PatchProfile(ctx, s.actor.ID, patch); err != nil {
		return err
	}

	s.assetGen.Add(1)
	s.mu.Lock()
	s.record.Apply(patch)
	s.displayed = domain.AssetCandidate{State: domain.CandidateCommitted}
	s.mu.Unlock()
	return nil
}

// resolveAndVerify asks the signing service for a fresh URL and prefetches
// it. Both steps respect the pick generation; a stale pick short-circuits.
func (s *Session) resolveAndVerify(ctx context.Context, gen int64, path string, timeout time.Duration) (string, bool) {
	if !s.pickCurrent(gen) {
		return "", false
	}
	assetResolveAttempts.Inc()

	url, ok := s.deps.Resolver.GetFreshAssetURL(ctx, path)
	if !ok || !s.pickCurrent(gen) {
		return "", false
	}
	if !s.deps.Verifier.Verify(ctx, url, timeout) {
		return "", false
	}
	return url, true
}

// commitCandidate swaps the displayed asset to a verified remote URL, unless
// a newer pick superseded this pipeline while it was in flight.
func (s *Session) commitCandidate(gen int64, url, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assetGen.Load() != gen {
		return
	}
	s.displayed = domain.AssetCandidate{
		URL:   url,
		State: domain.CandidateCommitted,
	}
	assetCommits.WithLabelValues(source).Inc()
}

// pickCurrent reports whether gen is still the active avatar pick.
func (s *Session) pickCurrent(gen int64) bool {
	return s.assetGen.Load() == gen
}

// sleep waits for d or until the session context is done; false means the
// session went away and the pipeline should stop.
func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
