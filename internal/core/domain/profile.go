package domain

import "time"

// Role values stored on a profile record.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Sensitive fields whose persisted value may only change through a
// confirmed verification challenge.
const (
	FieldUsername = "username"
	FieldEmail    = "email"
	FieldRole     = "role"
)

// Address is the structured address block of a profile.
type Address struct {
	Country string `json:"country"`
	State   string `json:"state"`
	City    string `json:"city"`
	Zip     string `json:"zip"`
}

// Settings holds toggle-style preferences. Toggles are written immediately,
// without debouncing.
type Settings struct {
	NotificationsEnabled bool   `json:"notificationsEnabled"`
	DarkMode             bool   `json:"darkMode"`
	Language             string `json:"language"`
}

// ProfileRecord is the authoritative per-user record owned by the profile
// store. The engine holds a cached, possibly-stale copy per session.
type ProfileRecord struct {
	ID               string    `json:"id"`
	FullName         string    `json:"fullName"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone,omitempty"`
	DateOfBirth      string    `json:"dateOfBirth,omitempty"`
	Gender           string    `json:"gender,omitempty"`
	Address          Address   `json:"address"`
	Settings         Settings  `json:"settings"`
	ProfileImage     string    `json:"profileImage,omitempty"`
	ProfileImagePath string    `json:"profileImagePath,omitempty"`
	Role             string    `json:"role"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Patch is a partial update of a ProfileRecord. Only the named fields are
// written; nil-safe string maps keep the store calls generic across field
// groups.
type Patch map[string]any

// Apply reflects a successfully persisted patch back into the cached record.
// Unknown fields are ignored, matching the store's column allowlist.
func (r *ProfileRecord) Apply(patch Patch) {
	for field, value := range patch {
		switch v := value.(type) {
		case string:
			switch field {
			case "fullName":
				r.FullName = v
			case FieldUsername:
				r.Username = v
			case FieldEmail:
				r.Email = v
			case "phone":
				r.Phone = v
			case "dateOfBirth":
				r.DateOfBirth = v
			case "gender":
				r.Gender = v
			case "address.country":
				r.Address.Country = v
			case "address.state":
				r.Address.State = v
			case "address.city":
				r.Address.City = v
			case "address.zip":
				r.Address.Zip = v
			case "language":
				r.Settings.Language = v
			case "profileImage":
				r.ProfileImage = v
			case "profileImagePath":
				r.ProfileImagePath = v
			case FieldRole:
				r.Role = v
			}
		case bool:
			switch field {
			case "notificationsEnabled":
				r.Settings.NotificationsEnabled = v
			case "darkMode":
				r.Settings.DarkMode = v
			}
		}
	}
}

// EditBuffer holds in-progress edits for one session. It is seeded from the
// ProfileRecord on entering edit mode and discarded on cancel; only patches
// derived from it are ever persisted.
type EditBuffer struct {
	FullName    string  `json:"fullName"`
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	Phone       string  `json:"phone"`
	DateOfBirth string  `json:"dateOfBirth"`
	Gender      string  `json:"gender"`
	Address     Address `json:"address"`
}

// NewEditBuffer seeds a buffer from the current record.
func NewEditBuffer(rec *ProfileRecord) EditBuffer {
	return EditBuffer{
		FullName:    rec.FullName,
		Username:    rec.Username,
		Email:       rec.Email,
		Phone:       rec.Phone,
		DateOfBirth: rec.DateOfBirth,
		Gender:      rec.Gender,
		Address:     rec.Address,
	}
}

// CandidateState tracks an asset URL under consideration for display.
type CandidateState string

const (
	CandidateProposed  CandidateState = "proposed"
	CandidateVerified  CandidateState = "verified"
	CandidateCommitted CandidateState = "committed"
	CandidateRejected  CandidateState = "rejected"
)

// AssetCandidate is a URL on its way to being displayed. Remote candidates
// must pass prefetch verification before commit; a local device URI may be
// committed unverified as an optimistic placeholder.
type AssetCandidate struct {
	URL   string
	Local bool
	State CandidateState
}

// ChallengeState is the lifecycle position of a verification challenge.
type ChallengeState string

const (
	ChallengeIdle            ChallengeState = "idle"
	ChallengeAwaitingCodeReq ChallengeState = "awaiting_code_request"
	ChallengeCodeRequested   ChallengeState = "code_requested"
	ChallengeCommitting      ChallengeState = "committing"
)

// Challenge purposes, passed through to the verification service.
const (
	PurposeUsernameChange = "username_change"
	PurposeEmailChange    = "email_change"
	PurposeRoleElevation  = "role_elevation"
)

// VerificationChallenge is the pending two-phase change of one sensitive
// field. At most one challenge is active per field; starting a new one
// discards any prior unconfirmed challenge for that field.
type VerificationChallenge struct {
	ID                string         `json:"id"`
	TargetField       string         `json:"targetField"`
	NewValue          string         `json:"newValue"`
	Purpose           string         `json:"purpose"`
	State             ChallengeState `json:"state"`
	RequestedAt       time.Time      `json:"requestedAt"`
	CodeRequested     bool           `json:"codeRequested"`
	AttemptsRemaining int            `json:"attemptsRemaining"`

	// credential is the re-entered password for self changes, or the target
	// user's email for role elevation. Never serialized.
	Credential string `json:"-"`
}

// Actor is the authenticated principal driving a session.
type Actor struct {
	ID    string
	Email string
	Role  string
}

// CanWriteDirectly reports whether the actor may patch the given field
// without a verification challenge. Admins demote roles directly; nobody
// writes their own sensitive identity fields directly.
func (a Actor) CanWriteDirectly(field string) bool {
	switch field {
	case FieldUsername, FieldEmail:
		return false
	case FieldRole:
		return a.Role == RoleAdmin
	default:
		return true
	}
}
