package v1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynhne/profile-sync/internal/core/domain"
)

func TestEditFieldDebouncedAutosave(t *testing.T) {
	env := newTestEnv()
	sess := env.session(userActor())
	sess.BeginEdit()

	for _, v := range []string{"Ana", "Anaa", "Anaya"} {
		require.NoError(t, sess.EditField("fullName", v))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return env.store.patchCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, 1, env.store.patchCount(), "burst must collapse into one write")

	last, ok := env.store.lastPatch()
	require.True(t, ok)
	assert.Equal(t, domain.Patch{"fullName": "Anaya"}, last.Patch)
	assert.Equal(t, "Anaya", env.store.record("42").FullName)
}

func TestEditFieldRejectsSensitiveFields(t *testing.T) {
	env := newTestEnv()
	sess := env.session(userActor())
	sess.BeginEdit()

	for _, field := range []string{domain.FieldUsername, domain.FieldEmail, domain.FieldRole} {
		err := sess.EditField(field, "anything")
		require.ErrorIs(t, err, domain.ErrValidation, field)
	}
	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, env.store.patchCount(), "sensitive fields never autosave")
}

func TestAutosaveFailureKeepsBufferAndSurfacesStatus(t *testing.T) {
	env := newTestEnv()
	sess := env.session(userActor())
	sess.BeginEdit()
	env.store.setFailing(true)

	require.NoError(t, sess.EditField("phone", "555-0100"))
	require.Eventually(t, func() bool {
		return sess.Snapshot().SaveError != ""
	}, time.Second, 5*time.Millisecond)

	snap := sess.Snapshot()
	assert.Equal(t, "555-0100", snap.Buffer.Phone, "typed input must survive a failed save")
	assert.Equal(t, "", snap.Record.Phone, "record cache must not pretend the write landed")

	// The next edit re-arms a save attempt naturally once the store is back.
	env.store.setFailing(false)
	require.NoError(t, sess.EditField("phone", "555-0101"))
	require.Eventually(t, func() bool { return env.store.patchCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, sess.Snapshot().SaveError)
}

func TestSetToggleWritesImmediately(t *testing.T) {
	env := newTestEnv()
	sess := env.session(userActor())

	require.NoError(t, sess.SetToggle("darkMode", true))
	require.Equal(t, 1, env.store.patchCount())
	assert.True(t, env.store.record("42").Settings.DarkMode)
}

func TestCancelEditDiscardsBufferAndChallenges(t *testing.T) {
	env := newTestEnv()
	sess := env.session(userActor())
	sess.BeginEdit()

	require.NoError(t, sess.EditField("fullName", "Someone Else"))
	require.NoError(t, sess.StartUsernameChange("newname", "hunter2"))

	sess.CancelEdit()

	snap := sess.Snapshot()
	assert.False(t, snap.Editing)
	assert.Equal(t, "Ana Reyes", snap.Record.FullName)
	assert.Empty(t, snap.Challenges, "cancel discards open challenges")
	assert.Equal(t, snap.Record.ProfileImage, snap.DisplayedAssetURL)
}

func TestSessionCloseCancelsOutstandingTimers(t *testing.T) {
	env := newTestEnv()
	sess := env.session(userActor())
	sess.BeginEdit()

	require.NoError(t, sess.EditField("fullName", "Ghost Write"))
	env.service.Drop("42")

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, env.store.patchCount(), "teardown must cancel pending autosaves")
}

func TestReloadTriggersAssetRefreshOnPathChange(t *testing.T) {
	env := newTestEnv()
	sess := env.session(userActor())

	// Another device stored a new avatar; the reload sees the new path.
	env.store.mu.Lock()
	env.store.records["42"].ProfileImagePath = "avatars/42-v2.jpg"
	env.store.mu.Unlock()
	env.resolver.mu.Lock()
	env.resolver.answers = []resolverAnswer{{url: "https://cdn.example/fresh/42-v2.jpg", ok: true}}
	env.resolver.mu.Unlock()
	env.verifier.mu.Lock()
	env.verifier.verdicts["https://cdn.example/fresh/42-v2.jpg"] = true
	env.verifier.mu.Unlock()

	_, err := env.service.Reload(t.Context(), userActor())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sess.Snapshot().DisplayedAssetURL == "https://cdn.example/fresh/42-v2.jpg"
	}, time.Second, 5*time.Millisecond)
}

func TestSessionForUnknownUserServesDetachedRecord(t *testing.T) {
	env := newTestEnv()
	sess, err := env.service.Session(t.Context(), domain.Actor{ID: "77", Email: "new@example.com"})
	require.NoError(t, err)

	snap := sess.Snapshot()
	assert.Equal(t, "77", snap.Record.ID)
	assert.Equal(t, "new@example.com", snap.Record.Email)
	assert.Equal(t, domain.RoleUser, snap.Record.Role)
}
