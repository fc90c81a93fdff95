package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jezel/internal/codec"
	"github.com/ternarybob/jezel/internal/common"
	"github.com/ternarybob/jezel/internal/models"
	"github.com/ternarybob/jezel/internal/storage/sqlite"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := sqlite.NewDB(logger, &common.DatabaseConfig{
		URI:           "sqlite::memory:",
		Table:         "jezel_test",
		BusyTimeoutMS: 5000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	table := sqlite.NewTable(db, logger, sqlite.TableConfig{Name: "jezel_test", IDKind: sqlite.IDUUID})
	require.NoError(t, table.InitSchema(context.Background()))

	store := NewObjectStore(table, codec.New(logger, codec.DefaultRegistry()), logger)
	return NewService(store, logger, nil)
}

func setupBootstrapped(t *testing.T) (*Service, *models.System) {
	t.Helper()
	svc := setupTestService(t)
	system, err := svc.Bootstrap(context.Background(), common.NewDefaultConfig())
	require.NoError(t, err)
	return svc, system
}

func TestBootstrap_CreatesSystemAndAdmin(t *testing.T) {
	svc, system := setupBootstrapped(t)
	ctx := context.Background()

	require.NotNil(t, system)
	assert.Equal(t, "jezel", system.Name)

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	admin := users[0]
	assert.Equal(t, "admin", admin.Username)
	assert.True(t, admin.IsAdmin)
	assert.True(t, admin.IsSystem)
	assert.True(t, VerifyPassword("admin", admin.PasswordHash, admin.PasswordSalt))

	// A second bootstrap finds both and creates nothing.
	again, err := svc.Bootstrap(ctx, common.NewDefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, system.ID, again.ID)
	users, err = svc.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestSaveUser_DuplicateUsernameCasefolded(t *testing.T) {
	svc, system := setupBootstrapped(t)
	ctx := context.Background()

	alice := models.NewUser(system.ID, "alice", "h", "s")
	require.NoError(t, svc.SaveUser(ctx, alice))

	shouting := models.NewUser(system.ID, "ALICE", "h", "s")
	err := svc.SaveUser(ctx, shouting)
	require.Error(t, err)
	assert.True(t, models.IsInvalidState(err))

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2, "admin plus alice")
}

func TestSaveUser_UpdateKeepsOwnUsername(t *testing.T) {
	svc, system := setupBootstrapped(t)
	ctx := context.Background()

	alice := models.NewUser(system.ID, "alice", "h", "s")
	require.NoError(t, svc.SaveUser(ctx, alice))

	alice.IsAdmin = true
	require.NoError(t, svc.SaveUser(ctx, alice))
	assert.Equal(t, int64(2), alice.GetVer())
}

func TestSaveUser_SystemUserInvariants(t *testing.T) {
	svc, system := setupBootstrapped(t)
	ctx := context.Background()

	// No second system user.
	second := models.NewUser(system.ID, "root2", "h", "s")
	second.IsSystem = true
	err := svc.SaveUser(ctx, second)
	require.Error(t, err)
	assert.True(t, models.IsInvalidState(err))

	// No demoting the system user.
	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	admin := users[0]
	admin.IsSystem = false
	err = svc.SaveUser(ctx, admin)
	require.Error(t, err)
	assert.True(t, models.IsInvalidState(err))

	// No promoting an ordinary user.
	admin.IsSystem = true
	bob := models.NewUser(system.ID, "bob", "h", "s")
	require.NoError(t, svc.SaveUser(ctx, bob))
	bob.IsSystem = true
	err = svc.SaveUser(ctx, bob)
	require.Error(t, err)
	assert.True(t, models.IsInvalidState(err))
}

func TestDeleteUser_SystemUserAndMissing(t *testing.T) {
	svc, system := setupBootstrapped(t)
	ctx := context.Background()

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	admin := users[0]

	err = svc.DeleteUser(ctx, admin)
	require.Error(t, err)
	assert.True(t, models.IsInvalidState(err))

	// Deleting an unknown user is a no-op.
	ghost := models.NewUser(system.ID, "ghost", "h", "s")
	require.NoError(t, svc.DeleteUser(ctx, ghost))

	bob := models.NewUser(system.ID, "bob", "h", "s")
	require.NoError(t, svc.SaveUser(ctx, bob))
	require.NoError(t, svc.DeleteUser(ctx, bob))
	got, err := svc.GetUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveJob_NormalizesAndMirrorsTags(t *testing.T) {
	svc, system := setupBootstrapped(t)
	ctx := context.Background()

	job := models.NewJob(system.ID, "nightly")
	job.Tasks = []models.Task{
		{Step: 5, Action: "noop"},
		{Step: 1, Action: "noop"},
	}
	job.Tags = []models.Tag{{Name: " Team ", Value: "OPS"}}
	require.NoError(t, svc.SaveJob(ctx, job))

	loaded, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Tasks, 2)
	assert.Equal(t, 0, loaded.Tasks[0].Step)
	assert.Equal(t, 1, loaded.Tasks[1].Step)
	require.Len(t, loaded.Tags, 1)
	assert.Equal(t, models.Tag{Name: "team", Value: "ops"}, loaded.Tags[0])

	// Tag map is mirrored into the row itself.
	row, err := svc.Store().Table().SelectOne(ctx, nil, sqlite.RowID{UUID: job.ID.UUID()}, sqlite.ColAll)
	require.NoError(t, err)
	require.NotNil(t, row.DMedium)
	assert.JSONEq(t, `{"team":"ops"}`, *row.DMedium)
}

func TestSaveJob_RejectsInvalid(t *testing.T) {
	svc, system := setupBootstrapped(t)
	ctx := context.Background()

	job := models.NewJob(system.ID, "bad")
	job.Schedules = []models.Schedule{models.NewSchedule(job.ID, "nope")}
	err := svc.SaveJob(ctx, job)
	require.Error(t, err)
	assert.True(t, models.IsInvalidState(err))
}

func TestDeleteJob_MissingIsNoOp(t *testing.T) {
	svc, system := setupBootstrapped(t)
	ctx := context.Background()

	job := models.NewJob(system.ID, "gone")
	require.NoError(t, svc.DeleteJob(ctx, job))
}

func TestTriggerJob_CreatesTriggerAndExecution(t *testing.T) {
	svc, system := setupBootstrapped(t)
	ctx := context.Background()

	job := models.NewJob(system.ID, "manual")
	job.Tasks = []models.Task{models.NewTask(job.ID, 0, "noop")}
	require.NoError(t, svc.SaveJob(ctx, job))

	userID := models.NewID()
	trigger, execution, err := svc.TriggerJob(ctx, job.ID, userID)
	require.NoError(t, err)

	require.NotNil(t, trigger.TriggeredByUserID)
	assert.Equal(t, userID, *trigger.TriggeredByUserID)
	assert.Nil(t, trigger.TriggeredByScheduleID)

	assert.Equal(t, models.ExecutionTriggered, execution.State)
	assert.Equal(t, trigger.ID, execution.TriggerEventID)
	assert.Equal(t, job.Name, execution.JobSnapshot.Name)
	require.Len(t, execution.JobSnapshot.Tasks, 1)

	// The snapshot survives later job edits.
	job.Name = "renamed"
	require.NoError(t, svc.SaveJob(ctx, job))
	loaded, err := svc.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, "manual", loaded.JobSnapshot.Name)
}

func TestTriggerJob_MissingAndInactive(t *testing.T) {
	svc, system := setupBootstrapped(t)
	ctx := context.Background()

	_, _, err := svc.TriggerJob(ctx, models.NewID(), models.NewID())
	require.Error(t, err)
	assert.True(t, sqlite.IsNotFound(err))

	job := models.NewJob(system.ID, "paused")
	job.IsActive = false
	require.NoError(t, svc.SaveJob(ctx, job))

	_, _, err = svc.TriggerJob(ctx, job.ID, models.NewID())
	require.Error(t, err)
	assert.True(t, models.IsInvalidState(err))
}

func TestCancelExecution_Idempotent(t *testing.T) {
	svc, system := setupBootstrapped(t)
	ctx := context.Background()

	job := models.NewJob(system.ID, "cancellable")
	require.NoError(t, svc.SaveJob(ctx, job))
	_, execution, err := svc.TriggerJob(ctx, job.ID, models.NewID())
	require.NoError(t, err)

	userID := models.NewID()
	first, err := svc.CancelExecution(ctx, execution.ID, userID)
	require.NoError(t, err)

	second, err := svc.CancelExecution(ctx, execution.ID, models.NewID())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "repeat cancel returns the existing event")

	found, err := svc.FindCancellation(ctx, execution.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)

	_, err = svc.CancelExecution(ctx, models.NewID(), userID)
	require.Error(t, err)
	assert.True(t, sqlite.IsNotFound(err))
}

func TestListExecutionsByState(t *testing.T) {
	svc, system := setupBootstrapped(t)
	ctx := context.Background()

	job := models.NewJob(system.ID, "states")
	require.NoError(t, svc.SaveJob(ctx, job))

	_, triggered, err := svc.TriggerJob(ctx, job.ID, models.NewID())
	require.NoError(t, err)
	_, queued, err := svc.TriggerJob(ctx, job.ID, models.NewID())
	require.NoError(t, err)
	require.NoError(t, queued.MarkQueued(models.NewID()))
	require.NoError(t, svc.SaveExecution(ctx, nil, queued))

	pending, err := svc.ListExecutionsByState(ctx, models.ExecutionTriggered)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, triggered.ID, pending[0].ID)

	both, err := svc.ListExecutionsByState(ctx, models.ExecutionTriggered, models.ExecutionQueued)
	require.NoError(t, err)
	assert.Len(t, both, 2)
}

func TestSchedulerLeaseRoundTrip(t *testing.T) {
	svc, _ := setupBootstrapped(t)
	ctx := context.Background()

	lease, err := svc.GetSchedulerLease(ctx)
	require.NoError(t, err)
	assert.Nil(t, lease)

	serverID := models.NewID()
	lease = models.NewSchedulerLease(serverID)
	require.NoError(t, svc.SaveSchedulerLease(ctx, lease))

	loaded, err := svc.GetSchedulerLease(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, serverID, loaded.HolderServerID)
	assert.Equal(t, models.SchedulerLeaseID, loaded.ID)
}

func TestObjectStore_SaveAssignsIDAndVersion(t *testing.T) {
	svc, system := setupBootstrapped(t)
	ctx := context.Background()

	cfg := models.NewConfig(system.ID, "retention", "30d")
	require.NoError(t, svc.SaveConfig(ctx, cfg))
	assert.False(t, cfg.ID.IsZero())
	assert.Equal(t, int64(1), cfg.GetVer())

	cfg.Value = "60d"
	require.NoError(t, svc.SaveConfig(ctx, cfg))
	assert.Equal(t, int64(2), cfg.GetVer())

	// Stale copy loses the race.
	stale := *cfg
	stale.SetVer(1)
	stale.Value = "90d"
	err := svc.SaveConfig(ctx, &stale)
	require.Error(t, err)
	assert.True(t, sqlite.IsConcurrency(err))
}

func TestDefaultPasswordEncoder(t *testing.T) {
	hash, salt, err := DefaultPasswordEncoder("secret")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEmpty(t, salt)

	assert.True(t, VerifyPassword("secret", hash, salt))
	assert.False(t, VerifyPassword("wrong", hash, salt))

	hash2, salt2, err := DefaultPasswordEncoder("secret")
	require.NoError(t, err)
	assert.NotEqual(t, salt, salt2, "salts are random")
	assert.NotEqual(t, hash, hash2)
}
