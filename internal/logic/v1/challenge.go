package v1

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/duynhne/profile-sync/internal/core/domain"
	"github.com/duynhne/profile-sync/middleware"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const minUsernameLen = 3

// StartUsernameChange opens a challenge for the username. Validation fails
// fast with no network round-trip; a prior unconfirmed challenge for the
// field is discarded. No code is requested yet.
func (s *Session) StartUsernameChange(newValue, credential string) error {
	if utf8.RuneCountInString(newValue) < minUsernameLen {
		return fmt.Errorf("username must be at least %d characters: %w", minUsernameLen, domain.ErrValidation)
	}
	if credential == "" {
		return fmt.Errorf("current password is required: %w", domain.ErrValidation)
	}
	s.openChallenge(domain.FieldUsername, domain.PurposeUsernameChange, newValue, credential)
	return nil
}

// StartEmailChange opens a challenge for the email address. The new address
// must match its confirmation re-entry exactly.
func (s *Session) StartEmailChange(newValue, confirmValue, credential string) error {
	if !emailPattern.MatchString(newValue) {
		return fmt.Errorf("invalid email address: %w", domain.ErrValidation)
	}
	if newValue != confirmValue {
		return fmt.Errorf("email confirmation does not match: %w", domain.ErrValidation)
	}
	if credential == "" {
		return fmt.Errorf("current password is required: %w", domain.ErrValidation)
	}
	s.openChallenge(domain.FieldEmail, domain.PurposeEmailChange, newValue, credential)
	return nil
}

// StartRoleElevation opens the admin promote-to-admin challenge, keyed by
// the target user's email. The acting admin is already authenticated, so no
// credential re-entry is asked for.
func (s *Session) StartRoleElevation(targetEmail string) error {
	if s.actor.Role != domain.RoleAdmin {
		return domain.ErrUnauthorized
	}
	if !emailPattern.MatchString(targetEmail) {
		return fmt.Errorf("invalid target email: %w", domain.ErrValidation)
	}
	if targetEmail == s.tuning.PrimaryAdminEmail {
		return domain.ErrRoleProtected
	}
	s.openChallenge(domain.FieldRole, domain.PurposeRoleElevation, targetEmail, "")
	return nil
}

// openChallenge replaces any active challenge for the field. Exactly one
// challenge per sensitive field at a time.
func (s *Session) openChallenge(field, purpose, newValue, credential string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[field] = &domain.VerificationChallenge{
		ID:                uuid.NewString(),
		TargetField:       field,
		NewValue:          newValue,
		Purpose:           purpose,
		State:             domain.ChallengeAwaitingCodeReq,
		RequestedAt:       time.Now(),
		AttemptsRemaining: s.tuning.ChallengeAttempts,
		Credential:        credential,
	}
}

// RequestCode asks the verification service to send a code for the pending
// change. On failure the challenge stays in AwaitingCodeRequest so the user
// may retry; on success any previously entered code is moot and the state
// advances to CodeRequested.
func (s *Session) RequestCode(ctx context.Context, field string) error {
	ctx, span := middleware.StartSpan(ctx, "profile.challenge_request", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("challenge.field", field),
	))
	defer span.End()

	s.mu.Lock()
	ch, ok := s.challenges[field]
	if !ok || ch.State != domain.ChallengeAwaitingCodeReq {
		s.mu.Unlock()
		return fmt.Errorf("no challenge awaiting code request for %q: %w", field, domain.ErrChallengeState)
	}
	newValue, credential, purpose := ch.NewValue, ch.Credential, ch.Purpose
	s.mu.Unlock()

	if err := s.deps.Codes.RequestChangeCode(ctx, newValue, credential, purpose); err != nil {
		span.RecordError(err)
		challengeRequests.WithLabelValues(purpose, "error").Inc()
		return err
	}

	s.mu.Lock()
	// Re-check: cancel or a replacement pick may have raced the call.
	if cur, ok := s.challenges[field]; ok && cur.ID == ch.ID {
		cur.State = domain.ChallengeCodeRequested
		cur.CodeRequested = true
	}
	s.mu.Unlock()

	challengeRequests.WithLabelValues(purpose, "ok").Inc()
	s.logger.Info("Verification code requested", zap.String("purpose", purpose))
	return nil
}

// ConfirmCode validates the entered code and, on success, commits the new
// value to the store as the terminal effect of the challenge. A rejected
// code leaves the challenge in CodeRequested for correction; the sensitive
// field never changes on a partial cycle.
func (s *Session) ConfirmCode(ctx context.Context, field, code string) error {
	ctx, span := middleware.StartSpan(ctx, "profile.challenge_confirm", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("challenge.field", field),
	))
	defer span.End()

	if code == "" {
		return fmt.Errorf("code is required: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	ch, ok := s.challenges[field]
	if !ok || ch.State != domain.ChallengeCodeRequested {
		s.mu.Unlock()
		return fmt.Errorf("no code-requested challenge for %q: %w", field, domain.ErrChallengeState)
	}
	ch.State = domain.ChallengeCommitting
	newValue, purpose, id := ch.NewValue, ch.Purpose, ch.ID
	s.mu.Unlock()

	if err := s.deps.Codes.ConfirmChangeCode(ctx, newValue, code, purpose); err != nil {
		span.RecordError(err)
		s.mu.Lock()
		if cur, ok := s.challenges[field]; ok && cur.ID == id {
			cur.State = domain.ChallengeCodeRequested
			if errors.Is(err, domain.ErrChallengeRejected) {
				cur.AttemptsRemaining--
				if cur.AttemptsRemaining <= 0 {
					delete(s.challenges, field)
				}
			}
		}
		s.mu.Unlock()
		challengeConfirms.WithLabelValues(purpose, "rejected").Inc()
		return err
	}

	s.mu.Lock()
	// Re-check: a cancel or a replacement challenge may have raced the
	// confirm call. The discarded value must never reach the store.
	if cur, ok := s.challenges[field]; !ok || cur.ID != id {
		s.mu.Unlock()
		challengeConfirms.WithLabelValues(purpose, "superseded").Inc()
		return fmt.Errorf("challenge for %q was canceled or replaced: %w", field, domain.ErrChallengeState)
	}
	s.mu.Unlock()

	if err := s.commitChallenge(ctx, field, newValue); err != nil {
		span.RecordError(err)
		s.mu.Lock()
		if cur, ok := s.challenges[field]; ok && cur.ID == id {
			cur.State = domain.ChallengeCodeRequested
		}
		s.mu.Unlock()
		challengeConfirms.WithLabelValues(purpose, "error").Inc()
		return err
	}

	s.mu.Lock()
	if cur, ok := s.challenges[field]; ok && cur.ID == id {
		delete(s.challenges, field)
	}
	s.mu.Unlock()
	challengeConfirms.WithLabelValues(purpose, "ok").Inc()
	s.logger.Info("Sensitive change committed", zap.String("purpose", purpose))
	return nil
}

// commitChallenge writes the confirmed value. Self changes patch the actor's
// own record and buffer; role elevation patches the target resolved by email.
func (s *Session) commitChallenge(ctx context.Context, field, newValue string) error {
	if field == domain.FieldRole {
		target, err := s.deps.Store.ReadProfileByEmail(ctx, newValue)
		if err != nil {
			return err
		}
		if target.Email == s.tuning.PrimaryAdminEmail {
			return domain.ErrRoleProtected
		}
		return s.deps.Store.PatchProfile(ctx, target.ID, domain.Patch{domain.FieldRole: domain.RoleAdmin})
	}

	patch := domain.Patch{field: newValue}
	if err := s.deps.Store.PatchProfile(ctx, s.actor.ID, patch); err != nil {
		return err
	}
	s.mu.Lock()
	s.record.Apply(patch)
	switch field {
	case domain.FieldUsername:
		s.buffer.Username = newValue
	case domain.FieldEmail:
		s.buffer.Email = newValue
	}
	s.mu.Unlock()
	return nil
}

// CancelChallenge discards the challenge for a field along with its value,
// credential and code input. No store contact.
func (s *Session) CancelChallenge(field string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, field)
}

// DemoteAdmin is a direct, unchallenged write: admin to non-admin does not
// go through the two-phase protocol. The primary admin's role can never be
// changed by this path either.
func (s *Session) DemoteAdmin(ctx context.Context, targetEmail string) error {
	if s.actor.Role != domain.RoleAdmin {
		return domain.ErrUnauthorized
	}
	if targetEmail == s.tuning.PrimaryAdminEmail {
		return domain.ErrRoleProtected
	}
	target, err := s.deps.Store.ReadProfileByEmail(ctx, targetEmail)
	if err != nil {
		return err
	}
	if target.Email == s.tuning.PrimaryAdminEmail {
		return domain.ErrRoleProtected
	}
	return s.deps.Store.PatchProfile(ctx, target.ID, domain.Patch{domain.FieldRole: domain.RoleUser})
}
