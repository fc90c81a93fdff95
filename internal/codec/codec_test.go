package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jezel/internal/models"
	"github.com/ternarybob/jezel/internal/storage/sqlite"
)

func newTestCodec() *Codec {
	return New(arbor.NewLogger(), DefaultRegistry())
}

func TestCodec_UserRoundTrip(t *testing.T) {
	c := newTestCodec()

	user := models.NewUser(models.NewID(), "Alice", "hash", "salt")
	user.IsAdmin = true
	user.SetVer(3)

	row, err := c.Encode(user, map[string]string{"env": "test"})
	require.NoError(t, err)
	assert.Equal(t, "jezel.model.User", *row.DSmall)
	assert.Equal(t, int64(3), row.Ver)

	rec, tags, err := c.Decode(row)
	require.NoError(t, err)

	decoded, ok := rec.(*models.User)
	require.True(t, ok)
	assert.Equal(t, user.ID, decoded.ID)
	assert.Equal(t, int64(3), decoded.GetVer())
	assert.Equal(t, "alice", decoded.Username)
	assert.True(t, decoded.IsAdmin)
	assert.Equal(t, map[string]string{"env": "test"}, tags)
}

func TestCodec_JobRoundTripKeepsTaskOrder(t *testing.T) {
	c := newTestCodec()

	job := models.NewJob(models.NewID(), "nightly")
	job.Tasks = []models.Task{
		models.NewTask(job.ID, 0, "noop"),
		models.NewTask(job.ID, 1, "sleep"),
	}
	job.Schedules = []models.Schedule{models.NewSchedule(job.ID, "0 2 * * *")}
	job.Tags = []models.Tag{{Name: "team", Value: "ops"}}

	row, err := c.Encode(job, models.TagMap(job.Tags))
	require.NoError(t, err)

	rec, tags, err := c.Decode(row)
	require.NoError(t, err)

	decoded, ok := rec.(*models.Job)
	require.True(t, ok)
	require.Len(t, decoded.Tasks, 2)
	assert.Equal(t, 0, decoded.Tasks[0].Step)
	assert.Equal(t, "noop", decoded.Tasks[0].Action)
	assert.Equal(t, 1, decoded.Tasks[1].Step)
	require.Len(t, decoded.Schedules, 1)
	assert.Equal(t, "0 2 * * *", decoded.Schedules[0].Cron)
	assert.Equal(t, "ops", tags["team"])
}

func TestCodec_EncodeNilTagsBecomesEmptyObject(t *testing.T) {
	c := newTestCodec()

	system := models.NewSystem("jezel")
	row, err := c.Encode(system, nil)
	require.NoError(t, err)
	require.NotNil(t, row.DMedium)
	assert.Equal(t, "{}", *row.DMedium)
}

func TestCodec_DecodeToleratesSnakeCaseAndWhitespace(t *testing.T) {
	c := newTestCodec()

	payload := `{
		"system_id": "0b6f0a7a5e2c4f9d8a1b2c3d4e5f6071",
		"username": "  Bob  ",
		"password_hash": "h",
		"password_salt": "s",
		"is_admin": true,
		"is_active": true,
		"is_system": false,
		"created_on": "2026-08-24T10:00:00Z",
		"modified_on": "2026-08-24T10:00:00Z"
	}`
	row := sqlite.Row{
		ID:     sqlite.NewRowID(),
		Ver:    1,
		DSmall: sqlite.Str("jezel.model.User"),
		DLarge: sqlite.Str(payload),
	}

	rec, _, err := c.Decode(row)
	require.NoError(t, err)

	user, ok := rec.(*models.User)
	require.True(t, ok)
	assert.Equal(t, "Bob", user.Username)
	assert.True(t, user.IsAdmin)
	assert.Equal(t, time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC), user.CreatedOn)
}

func TestCodec_DecodeUnknownTag(t *testing.T) {
	c := newTestCodec()

	row := sqlite.Row{
		ID:     sqlite.NewRowID(),
		Ver:    1,
		DSmall: sqlite.Str("some.legacy.Widget"),
		DLarge: sqlite.Str("{}"),
	}
	_, _, err := c.Decode(row)
	require.Error(t, err)
	assert.True(t, IsUnknownType(err))
}

func TestRegistry_FallbackChain(t *testing.T) {
	r := DefaultRegistry()

	cases := []string{
		"jezel.model.User",     // exact
		"JEZEL.MODEL.USER",     // case-insensitive
		"legacy.package.User",  // last dotted segment
		"other.namespace.uSeR", // case-insensitive last segment
	}
	for _, tag := range cases {
		fn, err := r.Resolve(tag)
		require.NoError(t, err, tag)
		_, ok := fn().(*models.User)
		assert.True(t, ok, tag)
	}
}

func TestRegistry_ResolveCachesAlias(t *testing.T) {
	r := NewRegistry()
	r.Register(func() models.Record { return &models.System{} })

	fn, err := r.Resolve("old.pkg.System")
	require.NoError(t, err)
	_, ok := fn().(*models.System)
	require.True(t, ok)

	// Second resolve hits the alias cache.
	fn, err = r.Resolve("old.pkg.System")
	require.NoError(t, err)
	_, ok = fn().(*models.System)
	assert.True(t, ok)
}

func TestDefaultRegistry_CoversEveryVariant(t *testing.T) {
	tags := DefaultRegistry().Tags()
	assert.Len(t, tags, 10)
	assert.Contains(t, tags, "jezel.model.Execution")
	assert.Contains(t, tags, "jezel.model.SchedulerLease")
}
