package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/duynhne/profile-sync/internal/core/domain"
	logicv1 "github.com/duynhne/profile-sync/internal/logic/v1"
	"github.com/duynhne/profile-sync/middleware"
)

// ProfileHandler handles HTTP requests for the profile sync engine.
type ProfileHandler struct {
	service *logicv1.ProfileService
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(service *logicv1.ProfileService) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// actorFromContext builds the acting principal from the auth middleware.
func actorFromContext(c *gin.Context) (domain.Actor, bool) {
	id := c.GetString("user_id")
	if id == "" {
		return domain.Actor{}, false
	}
	return domain.Actor{
		ID:    id,
		Email: c.GetString("email"),
		Role:  c.GetString("role"),
	}, true
}

func handlerLogger(c *gin.Context) *zap.Logger {
	return middleware.GetLoggerFromGinContext(c)
}

// respondError maps engine sentinel errors onto HTTP statuses.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	logger.Error("Request failed", zap.Error(err))
	switch {
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitizeValidationError(err)})
	case errors.Is(err, domain.ErrProfileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
	case errors.Is(err, domain.ErrChallengeRejected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": sanitizeValidationError(err)})
	case errors.Is(err, domain.ErrChallengeState):
		c.JSON(http.StatusConflict, gin.H{"error": sanitizeValidationError(err)})
	case errors.Is(err, domain.ErrRoleProtected), errors.Is(err, domain.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": sanitizeValidationError(err)})
	case errors.Is(err, domain.ErrTransientService):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Service temporarily unavailable, please retry"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// session resolves the caller's live session, replying 401/5xx itself on
// failure.
func (h *ProfileHandler) session(c *gin.Context) (*logicv1.Session, *zap.Logger, bool) {
	logger := handlerLogger(c)
	actor, ok := actorFromContext(c)
	if !ok {
		logger.Warn("No user_id in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return nil, logger, false
	}
	sess, err := h.service.Session(c.Request.Context(), actor)
	if err != nil {
		respondError(c, logger, err)
		return nil, logger, false
	}
	return sess, logger, true
}

// GetProfile handles GET /api/v1/profile. With ?reload=true the record is
// re-read from the store first (triggering the asset refresh on path change).
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	ctx, span := middleware.StartSpan(c.Request.Context(), "http.request", trace.WithAttributes(
		attribute.String("layer", "web"),
		attribute.String("method", c.Request.Method),
		attribute.String("path", c.Request.URL.Path),
	))
	defer span.End()

	logger := handlerLogger(c)
	actor, ok := actorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var (
		sess *logicv1.Session
		err  error
	)
	if c.Query("reload") == "true" {
		sess, err = h.service.Reload(ctx, actor)
	} else {
		sess, err = h.service.Session(ctx, actor)
	}
	if err != nil {
		span.RecordError(err)
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// BeginEdit handles POST /api/v1/profile/edit.
func (h *ProfileHandler) BeginEdit(c *gin.Context) {
	sess, _, ok := h.session(c)
	if !ok {
		return
	}
	sess.BeginEdit()
	c.JSON(http.StatusOK, sess.Snapshot())
}

// CancelEdit handles POST /api/v1/profile/cancel.
func (h *ProfileHandler) CancelEdit(c *gin.Context) {
	sess, _, ok := h.session(c)
	if !ok {
		return
	}
	sess.CancelEdit()
	c.JSON(http.StatusOK, sess.Snapshot())
}

// EditFieldRequest is one buffered keystroke-level edit.
type EditFieldRequest struct {
	Field string `json:"field" binding:"required"`
	Value string `json:"value"`
}

// EditField handles PATCH /api/v1/profile/fields: buffer the value and arm
// the debounced autosave for that field key.
func (h *ProfileHandler) EditField(c *gin.Context) {
	sess, logger, ok := h.session(c)
	if !ok {
		return
	}
	var req EditFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitizeValidationError(err)})
		return
	}
	if err := sess.EditField(req.Field, req.Value); err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
}

// SetSettingRequest toggles one setting.
type SetSettingRequest struct {
	Field string `json:"field" binding:"required"`
	Value any    `json:"value"`
}

// SetSetting handles PUT /api/v1/profile/settings: immediate write, no
// debounce.
func (h *ProfileHandler) SetSetting(c *gin.Context) {
	sess, logger, ok := h.session(c)
	if !ok {
		return
	}
	var req SetSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitizeValidationError(err)})
		return
	}
	if err := sess.SetToggle(req.Field, req.Value); err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// PickAvatarRequest references the freshly picked local image.
type PickAvatarRequest struct {
	LocalURI string `json:"localUri" binding:"required"`
}

// PickAvatar handles POST /api/v1/profile/avatar: optimistic preview now,
// upload/resolve/verify pipeline detached.
func (h *ProfileHandler) PickAvatar(c *gin.Context) {
	sess, logger, ok := h.session(c)
	if !ok {
		return
	}
	var req PickAvatarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitizeValidationError(err)})
		return
	}
	sess.PickAvatar(req.LocalURI)
	c.JSON(http.StatusAccepted, sess.Snapshot())
}

// AvatarDisplayError handles POST /api/v1/profile/avatar/display-error: the
// client reports a committed image failing at paint time.
func (h *ProfileHandler) AvatarDisplayError(c *gin.Context) {
	sess, _, ok := h.session(c)
	if !ok {
		return
	}
	sess.AvatarDisplayError()
	c.JSON(http.StatusOK, sess.Snapshot())
}

// DeleteAvatar handles DELETE /api/v1/profile/avatar.
func (h *ProfileHandler) DeleteAvatar(c *gin.Context) {
	sess, logger, ok := h.session(c)
	if !ok {
		return
	}
	if err := sess.DeleteAvatar(c.Request.Context()); err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// ChangeUsernameRequest opens the username challenge.
type ChangeUsernameRequest struct {
	NewValue   string `json:"newValue" binding:"required"`
	Credential string `json:"credential"`
}

// ChangeUsername handles POST /api/v1/profile/username: validate, open the
// challenge, request the code.
func (h *ProfileHandler) ChangeUsername(c *gin.Context) {
	sess, logger, ok := h.session(c)
	if !ok {
		return
	}
	var req ChangeUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitizeValidationError(err)})
		return
	}
	if err := sess.StartUsernameChange(req.NewValue, req.Credential); err != nil {
		respondError(c, logger, err)
		return
	}
	if err := sess.RequestCode(c.Request.Context(), domain.FieldUsername); err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// ChangeEmailRequest opens the email challenge.
type ChangeEmailRequest struct {
	NewValue     string `json:"newValue" binding:"required"`
	ConfirmValue string `json:"confirmValue"`
	Credential   string `json:"credential"`
}

// ChangeEmail handles POST /api/v1/profile/email.
func (h *ProfileHandler) ChangeEmail(c *gin.Context) {
	sess, logger, ok := h.session(c)
	if !ok {
		return
	}
	var req ChangeEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitizeValidationError(err)})
		return
	}
	if err := sess.StartEmailChange(req.NewValue, req.ConfirmValue, req.Credential); err != nil {
		respondError(c, logger, err)
		return
	}
	if err := sess.RequestCode(c.Request.Context(), domain.FieldEmail); err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// RequestCode handles POST /api/v1/profile/challenge/request: retry the code
// request after a failed one.
func (h *ProfileHandler) RequestCode(c *gin.Context) {
	sess, logger, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Field string `json:"field" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitizeValidationError(err)})
		return
	}
	if err := sess.RequestCode(c.Request.Context(), req.Field); err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// ConfirmChallengeRequest carries the code the user received.
type ConfirmChallengeRequest struct {
	Field string `json:"field" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// ConfirmChallenge handles POST /api/v1/profile/challenge/confirm.
func (h *ProfileHandler) ConfirmChallenge(c *gin.Context) {
	sess, logger, ok := h.session(c)
	if !ok {
		return
	}
	var req ConfirmChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitizeValidationError(err)})
		return
	}
	if err := sess.ConfirmCode(c.Request.Context(), req.Field, req.Code); err != nil {
		respondError(c, logger, err)
		return
	}
	logger.Info("Sensitive field change confirmed", zap.String("field", req.Field))
	c.JSON(http.StatusOK, sess.Snapshot())
}

// CancelChallenge handles DELETE /api/v1/profile/challenge/:field.
func (h *ProfileHandler) CancelChallenge(c *gin.Context) {
	sess, _, ok := h.session(c)
	if !ok {
		return
	}
	sess.CancelChallenge(c.Param("field"))
	c.JSON(http.StatusOK, sess.Snapshot())
}

// RoleChangeRequest names the target user by email, per the admin screens.
type RoleChangeRequest struct {
	TargetEmail string `json:"targetEmail" binding:"required"`
}

// PromoteUser handles POST /api/v1/admin/users/role: two-phase challenge
// keyed by the target's email.
func (h *ProfileHandler) PromoteUser(c *gin.Context) {
	sess, logger, ok := h.session(c)
	if !ok {
		return
	}
	var req RoleChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitizeValidationError(err)})
		return
	}
	if err := sess.StartRoleElevation(req.TargetEmail); err != nil {
		respondError(c, logger, err)
		return
	}
	if err := sess.RequestCode(c.Request.Context(), domain.FieldRole); err != nil {
		respondError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// DemoteUser handles DELETE /api/v1/admin/users/role: direct unchallenged
// write, primary admin excepted.
func (h *ProfileHandler) DemoteUser(c *gin.Context) {
	sess, logger, ok := h.session(c)
	if !ok {
		return
	}
	var req RoleChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitizeValidationError(err)})
		return
	}
	if err := sess.DemoteAdmin(c.Request.Context(), req.TargetEmail); err != nil {
		respondError(c, logger, err)
		return
	}
	logger.Info("Admin demoted", zap.String("target", req.TargetEmail))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CloseSession handles DELETE /api/v1/profile/session: screen teardown.
// Every pending autosave timer is canceled.
func (h *ProfileHandler) CloseSession(c *gin.Context) {
	logger := handlerLogger(c)
	actor, ok := actorFromContext(c)
	if !ok {
		logger.Warn("No user_id in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	h.service.Drop(actor.ID)
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}
