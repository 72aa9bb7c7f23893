package domain

import (
	"context"
	"time"
)

// ProfileStore is the remote source of truth for profile records. Lookup by
// email serves the admin role-change path, which is keyed by the target
// user's email rather than an id.
type ProfileStore interface {
	ReadProfile(ctx context.Context, id string) (*ProfileRecord, error)
	ReadProfileByEmail(ctx context.Context, email string) (*ProfileRecord, error)
	PatchProfile(ctx context.Context, id string, patch Patch) error
}

// UploadResult is returned by an asset upload: the storage path plus the raw
// URL the storage service handed back (which may not be fetchable yet due to
// propagation delay).
type UploadResult struct {
	Path string
	URL  string
}

// AssetStorage uploads and deletes profile image assets.
type AssetStorage interface {
	UploadAsset(ctx context.Context, userID, localURI string) (*UploadResult, error)
	DeleteAsset(ctx context.Context, userID, path string) error
}

// AssetResolver produces a currently-valid display URL for a stored asset
// path, accounting for signed-URL expiry. A failure means "no fresh URL
// available right now", never a hard error to the caller.
type AssetResolver interface {
	GetFreshAssetURL(ctx context.Context, path string) (string, bool)
}

// PrefetchVerifier checks that a candidate URL is actually fetchable before
// it is committed to visible state. The timeout always resolves to "not
// verified", never to an error.
type PrefetchVerifier interface {
	Verify(ctx context.Context, url string, timeout time.Duration) bool
}

// VerificationService is the external two-phase challenge service. The code
// itself is generated and delivered out of band; this interface only
// initiates the request and consumes the confirm result.
type VerificationService interface {
	RequestChangeCode(ctx context.Context, newValue, credential, purpose string) error
	ConfirmChangeCode(ctx context.Context, newValue, code, purpose string) error
}
