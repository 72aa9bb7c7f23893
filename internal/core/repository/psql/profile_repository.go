package psql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duynhne/profile-sync/internal/core/domain"
)

// patchColumns maps patch field names to user_profiles columns. Anything not
// listed here is silently dropped rather than interpolated into SQL.
var patchColumns = map[string]string{
	"fullName":             "full_name",
	"username":             "username",
	"email":                "email",
	"phone":                "phone",
	"dateOfBirth":          "date_of_birth",
	"gender":               "gender",
	"address.country":      "country",
	"address.state":        "state",
	"address.city":         "city",
	"address.zip":          "zip",
	"notificationsEnabled": "notifications_enabled",
	"darkMode":             "dark_mode",
	"language":             "language",
	"profileImage":         "profile_image",
	"profileImagePath":     "profile_image_path",
	"role":                 "role",
}

// ProfileRepository implements domain.ProfileStore on PostgreSQL via pgx.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository creates a PostgreSQL-backed profile store.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// ReadProfileByEmail resolves a record by email. Used by the admin role
// paths, which identify the target user by email.
func (r *ProfileRepository) ReadProfileByEmail(ctx context.Context, email string) (*domain.ProfileRecord, error) {
	var id string
	err := r.pool.QueryRow(ctx, `SELECT user_id FROM user_profiles WHERE email = $1`, email).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("read profile by email: %w", domain.ErrProfileNotFound)
		}
		return nil, fmt.Errorf("query profile by email: %w", err)
	}
	return r.ReadProfile(ctx, id)
}

// ReadProfile loads the authoritative record for a user.
func (r *ProfileRepository) ReadProfile(ctx context.Context, id string) (*domain.ProfileRecord, error) {
	// Pointers for nullable columns
	var fullName, username, email, phone, dob, gender *string
	var country, state, city, zip *string
	var language, image, imagePath, role *string
	var notifications, darkMode *bool

	rec := &domain.ProfileRecord{ID: id}

	query := `SELECT full_name, username, email, phone, date_of_birth, gender,
		country, state, city, zip,
		notifications_enabled, dark_mode, language,
		profile_image, profile_image_path, role, updated_at
		FROM user_profiles WHERE user_id = $1`
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&fullName, &username, &email, &phone, &dob, &gender,
		&country, &state, &city, &zip,
		&notifications, &darkMode, &language,
		&image, &imagePath, &role, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("read profile %q: %w", id, domain.ErrProfileNotFound)
		}
		return nil, fmt.Errorf("query profile %q: %w", id, err)
	}

	rec.FullName = deref(fullName)
	rec.Username = deref(username)
	rec.Email = deref(email)
	rec.Phone = deref(phone)
	rec.DateOfBirth = deref(dob)
	rec.Gender = deref(gender)
	rec.Address = domain.Address{
		Country: deref(country),
		State:   deref(state),
		City:    deref(city),
		Zip:     deref(zip),
	}
	rec.Settings = domain.Settings{
		NotificationsEnabled: notifications != nil && *notifications,
		DarkMode:             darkMode != nil && *darkMode,
		Language:             deref(language),
	}
	rec.ProfileImage = deref(image)
	rec.ProfileImagePath = deref(imagePath)
	rec.Role = deref(role)
	if rec.Role == "" {
		rec.Role = domain.RoleUser
	}
	return rec, nil
}

// PatchProfile applies a partial update. Unknown fields are ignored; an
// empty patch is a no-op.
func (r *ProfileRepository) PatchProfile(ctx context.Context, id string, patch domain.Patch) error {
	sets := make([]string, 0, len(patch))
	args := make([]any, 0, len(patch)+1)
	for field, value := range patch {
		col, ok := patchColumns[field]
		if !ok {
			continue
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf(
		"UPDATE user_profiles SET %s, updated_at = now() WHERE user_id = $%d",
		strings.Join(sets, ", "), len(args),
	)
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("patch profile %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patch profile %q: %w", id, domain.ErrProfileNotFound)
	}
	return nil
}

// EnsureProfile inserts an empty record for a user if none exists yet, so a
// first PATCH after signup has a row to land on.
func (r *ProfileRepository) EnsureProfile(ctx context.Context, id string) error {
	query := `INSERT INTO user_profiles (user_id, role, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, query, id, domain.RoleUser); err != nil {
		return fmt.Errorf("ensure profile %q: %w", id, err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
