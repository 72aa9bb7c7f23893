package v1

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	autosaveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_autosave_writes_total",
			Help: "Autosave patches sent to the profile store",
		},
		[]string{"key", "outcome"},
	)

	autosaveSuperseded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_autosave_superseded_total",
			Help: "Pending autosave timers replaced by a newer edit before firing",
		},
	)

	assetResolveAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_asset_resolve_attempts_total",
			Help: "Fresh-URL resolution attempts in the avatar pipeline",
		},
	)

	assetCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_asset_commits_total",
			Help: "Avatar candidates committed to visible state",
		},
		[]string{"source"}, // local, resolved, raw, refresh, recovery
	)

	assetExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_asset_resolution_exhausted_total",
			Help: "Avatar pipelines that gave up after the retry bound (silently, propagation delay)",
		},
	)

	challengeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_challenge_requests_total",
			Help: "Verification code requests by purpose and outcome",
		},
		[]string{"purpose", "outcome"},
	)

	challengeConfirms = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_challenge_confirms_total",
			Help: "Verification code confirmations by purpose and outcome",
		},
		[]string{"purpose", "outcome"},
	)
)
