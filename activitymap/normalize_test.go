package activitymap_test

import (
	"context"
	"errors"
	"testing"
	"time"

	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/activitymap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := session.ActivityEvent{
		EventType: session.ActivityEventAccountMirrored,
		Operation: "register",
		UserID:    "uid-100",
		Email:     "ada@example.com",
		Metadata: map[string]any{
			"status": 201,
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	assert.Equal(t, "uid-100", out.ActorID)
	assert.Equal(t, string(session.ActivityEventAccountMirrored), out.Verb)
	assert.Equal(t, "account", out.ObjectType)
	assert.Equal(t, "uid-100", out.ObjectID)
	assert.Equal(t, "session", out.Channel)
	assert.True(t, out.OccurredAt.Equal(ts))
	assert.Equal(t, 201, out.Metadata["status"])
	assert.Equal(t, "register", out.Metadata[activitymap.MetadataKeyOperation])
	assert.Equal(t, "ada@example.com", out.Metadata[activitymap.MetadataKeyEmail])
}

func TestNormalizeFallbacks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	out := activitymap.Normalize(session.ActivityEvent{
		EventType: session.ActivityEventLoginFailure,
		Email:     "  ada@example.com ",
	}, activitymap.WithClock(func() time.Time { return now }))
	assert.Equal(t, "ada@example.com", out.ActorID)
	assert.Empty(t, out.ObjectID)
	assert.True(t, out.OccurredAt.Equal(now))

	out = activitymap.Normalize(session.ActivityEvent{
		EventType: session.ActivityEventSignOut,
	}, activitymap.WithActorFallback("system"))
	assert.Equal(t, "system", out.ActorID)
	assert.Nil(t, out.Metadata)
}

func TestNormalizeOptions(t *testing.T) {
	t.Parallel()

	event := session.ActivityEvent{
		EventType: session.ActivityEventMirrorFailure,
		UserID:    "uid-7",
		Email:     "grace@example.com",
		Metadata:  map[string]any{activitymap.MetadataKeyOperation: "explicit"},
		Operation: "federated",
	}

	out := activitymap.Normalize(event,
		activitymap.WithDefaultChannel(" mirror "),
		activitymap.WithDefaultObjectType("user"),
		activitymap.WithObjectIDResolver(func(e session.ActivityEvent) string { return e.Email }),
	)

	assert.Equal(t, "mirror", out.Channel)
	assert.Equal(t, "user", out.ObjectType)
	assert.Equal(t, "grace@example.com", out.ObjectID)
	assert.Equal(t, "explicit", out.Metadata[activitymap.MetadataKeyOperation])

	// Normalizing must not mutate the caller's metadata.
	assert.Len(t, event.Metadata, 1)
}

func TestNewSink(t *testing.T) {
	t.Parallel()

	var got []activitymap.Normalized
	sink := activitymap.NewSink(func(_ context.Context, record activitymap.Normalized) error {
		got = append(got, record)
		return nil
	})

	require.NoError(t, sink.Record(context.Background(), session.ActivityEvent{
		EventType: session.ActivityEventAccountCreated,
		UserID:    "uid-1",
	}))
	require.Len(t, got, 1)
	assert.Equal(t, "uid-1", got[0].ActorID)

	failing := activitymap.NewSink(func(context.Context, activitymap.Normalized) error {
		return errors.New("boom")
	})
	assert.EqualError(t, failing.Record(context.Background(), session.ActivityEvent{}), "boom")

	assert.NoError(t, activitymap.NewSink(nil).Record(context.Background(), session.ActivityEvent{}))
}
