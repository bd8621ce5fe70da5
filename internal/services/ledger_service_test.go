package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/estoque-labs/goal-engine/internal/messaging"
	"github.com/estoque-labs/goal-engine/internal/metrics"
	"github.com/estoque-labs/goal-engine/internal/models"
	"github.com/estoque-labs/goal-engine/internal/retry"
	"github.com/estoque-labs/goal-engine/pkg/apperrors"
	"github.com/estoque-labs/goal-engine/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitLogger()
}

type ledgerFixture struct {
	ledger        *memLedger
	goals         *memGoals
	prefs         *memPrefs
	notifications *memNotifications
	messenger     *fakeMessenger
	service       *LedgerService
	goalService   *GoalService
}

const managementChannel = "channel-mgmt"

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()

	f := &ledgerFixture{
		ledger:        newMemLedger(),
		goals:         newMemGoals(),
		prefs:         newMemPrefs(),
		notifications: newMemNotifications(),
		messenger:     newFakeMessenger(),
	}
	f.messenger.channels[managementChannel] = "gerência"

	executor := retry.NewExecutor()
	notificationService := NewNotificationService(f.notifications, f.prefs, f.messenger)
	f.service = NewLedgerService(f.ledger, f.goals, f.prefs, notificationService, executor, newSyncDispatcher(), managementChannel)
	f.goalService = NewGoalService(f.goals, f.ledger, notificationService, executor, managementChannel)
	return f
}

func (f *ledgerFixture) addUser(id, name string) Actor {
	f.messenger.users[id] = name
	return Actor{ID: id, Name: name}
}

func TestApplyDeltaRejectsNonPositiveQuantity(t *testing.T) {
	f := newLedgerFixture(t)
	actor := f.addUser("u1", "Ana")

	for _, quantity := range []int64{0, -5} {
		_, err := f.service.ApplyDelta(context.Background(), "etherx", quantity, actor, models.ActionAddition, nil)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	}
	_, err := f.ledger.GetResource(context.Background(), "etherx")
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "no mutation on rejected input")
}

func TestQuantityEqualsAdditionsMinusWithdrawals(t *testing.T) {
	f := newLedgerFixture(t)
	actor := f.addUser("u1", "Ana")
	ctx := context.Background()

	var want int64
	for _, op := range []struct {
		action   models.Action
		quantity int64
	}{
		{models.ActionAddition, 10},
		{models.ActionAddition, 7},
		{models.ActionWithdrawal, 4},
		{models.ActionAddition, 1},
		{models.ActionWithdrawal, 9},
	} {
		resource, err := f.service.ApplyDelta(ctx, "EtherX", op.quantity, actor, op.action, nil)
		require.NoError(t, err)
		if op.action == models.ActionAddition {
			want += op.quantity
		} else {
			want -= op.quantity
		}
		assert.Equal(t, want, resource.Quantity)
	}

	resource, err := f.ledger.GetResource(ctx, "etherx")
	require.NoError(t, err)
	assert.Equal(t, int64(5), resource.Quantity)
	assert.Len(t, resource.History, 5)
}

func TestWithdrawalsNeverTouchProgress(t *testing.T) {
	f := newLedgerFixture(t)
	actor := f.addUser("u1", "Ana")
	ctx := context.Background()

	_, err := f.goalService.DefineGoal(ctx, "etherx", models.TargetUser, "u1", "Ana", 10, 50)
	require.NoError(t, err)

	_, err = f.service.ApplyDelta(ctx, "etherx", 6, actor, models.ActionAddition, nil)
	require.NoError(t, err)
	_, err = f.service.ApplyDelta(ctx, "etherx", 3, actor, models.ActionWithdrawal, nil)
	require.NoError(t, err)

	record, err := f.goals.GetGoal(ctx, "etherx", models.TargetUser, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), record.DailyProgress)
	assert.Equal(t, int64(6), record.WeeklyProgress)
}

func TestDailyGoalMetFiresExactlyOnce(t *testing.T) {
	f := newLedgerFixture(t)
	actor := f.addUser("u1", "Ana")
	ctx := context.Background()

	_, err := f.goalService.DefineGoal(ctx, "etherx", models.TargetUser, "u1", "Ana", 10, 50)
	require.NoError(t, err)

	// Add 4: progress 4, nothing fires.
	_, err = f.service.ApplyDelta(ctx, "etherx", 4, actor, models.ActionAddition, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, len(f.messenger.sentTo("u1")))

	// Add 6: progress 10, prior 4 < 10, goal-met fires once.
	_, err = f.service.ApplyDelta(ctx, "etherx", 6, actor, models.ActionAddition, nil)
	require.NoError(t, err)
	sends := f.messenger.sentTo("u1")
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0].Message, "meta diária")

	// Add 1: progress 11, prior 10 >= 10, nothing new.
	_, err = f.service.ApplyDelta(ctx, "etherx", 1, actor, models.ActionAddition, nil)
	require.NoError(t, err)
	assert.Len(t, f.messenger.sentTo("u1"), 1)
}

func TestGoalMetPersistsNotificationRecord(t *testing.T) {
	f := newLedgerFixture(t)
	actor := f.addUser("u1", "Ana")
	ctx := context.Background()

	_, err := f.goalService.DefineGoal(ctx, "etherx", models.TargetUser, "u1", "Ana", 5, 25)
	require.NoError(t, err)

	_, err = f.service.ApplyDelta(ctx, "etherx", 5, actor, models.ActionAddition, nil)
	require.NoError(t, err)

	unread, err := f.notifications.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}

func TestDisabledProximityPreferenceSuppressesSilently(t *testing.T) {
	f := newLedgerFixture(t)
	actor := f.addUser("u1", "Ana")
	ctx := context.Background()

	pref := models.DefaultPreference("u1")
	pref.NotifyProximity = false
	require.NoError(t, f.prefs.UpsertPreference(ctx, pref))

	_, err := f.goalService.DefineGoal(ctx, "etherx", models.TargetUser, "u1", "Ana", 10, 50)
	require.NoError(t, err)

	// Crossing the 80% bound with the category disabled: success, zero sends,
	// zero records.
	_, err = f.service.ApplyDelta(ctx, "etherx", 8, actor, models.ActionAddition, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, f.messenger.sendCount())
	unread, err := f.notifications.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestOverperformanceAlertGoesToManagementChannel(t *testing.T) {
	f := newLedgerFixture(t)
	actor := f.addUser("u1", "Ana")
	ctx := context.Background()

	_, err := f.goalService.DefineGoal(ctx, "etherx", models.TargetUser, "u1", "Ana", 10, 50)
	require.NoError(t, err)

	// 0 -> 15 crosses the goal and the 150% bound in one update.
	_, err = f.service.ApplyDelta(ctx, "etherx", 15, actor, models.ActionAddition, nil)
	require.NoError(t, err)

	assert.Len(t, f.messenger.sentTo("u1"), 1, "goal met to the user")
	mgmt := f.messenger.sentTo(managementChannel)
	require.Len(t, mgmt, 1, "overperformance to management")
	assert.Contains(t, mgmt[0].Message, "Desempenho excepcional")

	// Broadcast sends are never persisted.
	unread, err := f.notifications.CountUnread(ctx, managementChannel)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestRoleFanOutUpdatesEachRole(t *testing.T) {
	f := newLedgerFixture(t)
	actor := f.addUser("u1", "Ana")
	ctx := context.Background()

	_, err := f.goalService.DefineGoal(ctx, "etherx", models.TargetRole, "r1", "Mineradores", 20, 100)
	require.NoError(t, err)
	_, err = f.goalService.DefineGoal(ctx, "etherx", models.TargetRole, "r2", "Veteranos", 30, 150)
	require.NoError(t, err)

	roles := []RoleRef{{ID: "r1", Name: "Mineradores"}, {ID: "r2", Name: "Veteranos"}}
	_, err = f.service.ApplyDelta(ctx, "etherx", 7, actor, models.ActionAddition, roles)
	require.NoError(t, err)

	for _, roleID := range []string{"r1", "r2"} {
		record, err := f.goals.GetGoal(ctx, "etherx", models.TargetRole, roleID)
		require.NoError(t, err)
		assert.Equal(t, int64(7), record.DailyProgress)
	}
}

func TestRoleGoalMetBroadcastsToManagement(t *testing.T) {
	f := newLedgerFixture(t)
	actor := f.addUser("u1", "Ana")
	ctx := context.Background()

	_, err := f.goalService.DefineGoal(ctx, "etherx", models.TargetRole, "r1", "Mineradores", 5, 25)
	require.NoError(t, err)

	_, err = f.service.ApplyDelta(ctx, "etherx", 5, actor, models.ActionAddition, []RoleRef{{ID: "r1", Name: "Mineradores"}})
	require.NoError(t, err)

	mgmt := f.messenger.sentTo(managementChannel)
	require.Len(t, mgmt, 1)
	assert.Contains(t, mgmt[0].Message, "Mineradores")
}

func TestRoleGoalMetNotifiesEachMember(t *testing.T) {
	f := newLedgerFixture(t)
	actor := f.addUser("u1", "Ana")
	f.addUser("u2", "Bia")
	f.messenger.members["r1"] = []messaging.Member{
		{ID: "u1", Name: "Ana"},
		{ID: "u2", Name: "Bia"},
	}
	ctx := context.Background()

	_, err := f.goalService.DefineGoal(ctx, "etherx", models.TargetRole, "r1", "Mineradores", 5, 25)
	require.NoError(t, err)

	_, err = f.service.ApplyDelta(ctx, "etherx", 5, actor, models.ActionAddition, []RoleRef{{ID: "r1", Name: "Mineradores"}})
	require.NoError(t, err)

	for _, memberID := range []string{"u1", "u2"} {
		sends := f.messenger.sentTo(memberID)
		require.Len(t, sends, 1, "each member gets the team message")
		assert.Contains(t, sends[0].Message, "equipe Mineradores")

		unread, err := f.notifications.CountUnread(ctx, memberID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), unread, "member messages are persisted individually")
	}
}

func TestDuplicateCrossingEventIsDeduplicated(t *testing.T) {
	f := newLedgerFixture(t)
	actor := f.addUser("u1", "Ana")

	record := &models.GoalRecord{
		ResourceName:   "etherx",
		TargetType:     models.TargetUser,
		TargetID:       "u1",
		TargetName:     "Ana",
		DailyGoal:      10,
		WeeklyGoal:     50,
		DailyProgress:  10,
		WeeklyProgress: 10,
		LastUpdated:    time.Now(),
	}
	event := metrics.Event{
		Kind:      metrics.DailyGoalMet,
		Period:    models.PeriodDaily,
		Goal:      10,
		Progress:  10,
		Threshold: 10,
	}

	// Re-enqueueing the same evaluated crossing collapses at the queue
	// boundary: the event id is derived from the record, not minted fresh.
	f.service.enqueueUserEvent(record, event, actor)
	f.service.enqueueUserEvent(record, event, actor)
	assert.Len(t, f.messenger.sentTo("u1"), 1)

	// A later update to the same record is a distinct event.
	record.LastUpdated = record.LastUpdated.Add(time.Second)
	f.service.enqueueUserEvent(record, event, actor)
	assert.Len(t, f.messenger.sentTo("u1"), 2)
}

func TestRoleMembersNotifiedWithoutManagementChannel(t *testing.T) {
	f := newLedgerFixture(t)
	actor := f.addUser("u1", "Ana")
	f.addUser("u2", "Bia")
	f.messenger.members["r1"] = []messaging.Member{
		{ID: "u1", Name: "Ana"},
		{ID: "u2", Name: "Bia"},
	}
	ctx := context.Background()

	notificationService := NewNotificationService(f.notifications, f.prefs, f.messenger)
	service := NewLedgerService(f.ledger, f.goals, f.prefs, notificationService, retry.NewExecutor(), newSyncDispatcher(), "")

	_, err := f.goalService.DefineGoal(ctx, "etherx", models.TargetRole, "r1", "Mineradores", 5, 25)
	require.NoError(t, err)

	_, err = service.ApplyDelta(ctx, "etherx", 5, actor, models.ActionAddition, []RoleRef{{ID: "r1", Name: "Mineradores"}})
	require.NoError(t, err)

	assert.Empty(t, f.messenger.sentTo(managementChannel))
	for _, memberID := range []string{"u1", "u2"} {
		assert.Len(t, f.messenger.sentTo(memberID), 1, "members are congratulated even with no management channel")
	}
}

func TestLedgerFailureAbortsWholeOperation(t *testing.T) {
	f := newLedgerFixture(t)
	actor := f.addUser("u1", "Ana")
	ctx := context.Background()

	_, err := f.goalService.DefineGoal(ctx, "etherx", models.TargetUser, "u1", "Ana", 10, 50)
	require.NoError(t, err)

	// Every attempt fails transiently: the retry budget is spent and the
	// operation surfaces OperationFailed without any downstream effects.
	f.ledger.failures = 3
	f.ledger.failWith = apperrors.Transient(errors.New("connection reset"))

	_, err = f.service.ApplyDelta(ctx, "etherx", 5, actor, models.ActionAddition, nil)
	require.ErrorIs(t, err, apperrors.ErrOperationFailed)

	record, err := f.goals.GetGoal(ctx, "etherx", models.TargetUser, "u1")
	require.NoError(t, err)
	assert.Zero(t, record.DailyProgress, "no progress recorded after aborted mutation")
	assert.Zero(t, f.messenger.sendCount())
}

func TestTransientLedgerFailureIsRetried(t *testing.T) {
	f := newLedgerFixture(t)
	actor := f.addUser("u1", "Ana")

	f.ledger.failures = 2
	f.ledger.failWith = apperrors.Transient(errors.New("timeout"))

	resource, err := f.service.ApplyDelta(context.Background(), "etherx", 5, actor, models.ActionAddition, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), resource.Quantity)
}

func TestNoGoalRecordMeansNoEvents(t *testing.T) {
	f := newLedgerFixture(t)
	actor := f.addUser("u1", "Ana")

	_, err := f.service.ApplyDelta(context.Background(), "etherx", 100, actor, models.ActionAddition, nil)
	require.NoError(t, err)
	assert.Zero(t, f.messenger.sendCount())
}
