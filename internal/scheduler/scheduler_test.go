package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/winter-report-service/internal/models"
)

type call struct {
	channel   string
	triggerID string
	deadline  bool
}

type fakeSender struct {
	mu        sync.Mutex
	calls     []call
	failOn    map[string]error
	duplicate map[string]bool
}

func (f *fakeSender) SendDaily(ctx context.Context, channel, triggerID string) (models.DispatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, hasDeadline := ctx.Deadline()
	f.calls = append(f.calls, call{channel, triggerID, hasDeadline})
	if err := f.failOn[channel]; err != nil {
		return models.DispatchResult{}, err
	}
	return models.DispatchResult{Channel: channel, TriggerID: triggerID, Recipient: channel + "-recipient", Duplicate: f.duplicate[channel]}, nil
}

func toronto(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)
	return loc
}

func TestTriggerID_UsesLocalDate(t *testing.T) {
	loc := toronto(t)
	// 03:30 UTC on Jan 2 is still Jan 1 in Toronto.
	assert.Equal(t, "daily:2026-01-01", TriggerID(time.Date(2026, 1, 2, 3, 30, 0, 0, time.UTC), loc))
	assert.Equal(t, "daily:2026-01-02", TriggerID(time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC), loc))
}

func TestRunOnce_SendsEveryChannelWithSameTrigger(t *testing.T) {
	sender := &fakeSender{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC))
	s := New(sender, Config{At: "07:00", Location: toronto(t), Channels: []string{"email", "card"}, Clock: clock}, nil)

	require.NoError(t, s.RunOnce(context.Background()))

	require.Len(t, sender.calls, 2)
	assert.Equal(t, "email", sender.calls[0].channel)
	assert.Equal(t, "card", sender.calls[1].channel)
	for _, c := range sender.calls {
		assert.Equal(t, "daily:2026-01-02", c.triggerID)
		assert.True(t, c.deadline, "each channel run should be bounded")
	}
}

func TestRunOnce_FailingChannelDoesNotStopOthers(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sendErr := errors.New("smtp down")
	sender := &fakeSender{failOn: map[string]error{"email": sendErr}, duplicate: map[string]bool{"card": true}}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC))
	s := New(sender, Config{At: "07:00", Location: time.UTC, Channels: []string{"email", "card"}, Clock: clock}, zap.New(core))

	err := s.RunOnce(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, sendErr)
	assert.Contains(t, err.Error(), "email")
	assert.Len(t, sender.calls, 2)
	assert.Equal(t, 1, logs.FilterMessage("scheduled notification failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("scheduled notification already sent").Len())
}

func TestRunOnce_RepeatedRunSameDayReusesTrigger(t *testing.T) {
	sender := &fakeSender{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC))
	s := New(sender, Config{At: "07:00", Location: time.UTC, Channels: []string{"email"}, Clock: clock}, nil)

	require.NoError(t, s.RunOnce(context.Background()))
	clock.Advance(6 * time.Hour)
	require.NoError(t, s.RunOnce(context.Background()))
	clock.Advance(12 * time.Hour)
	require.NoError(t, s.RunOnce(context.Background()))

	require.Len(t, sender.calls, 3)
	assert.Equal(t, sender.calls[0].triggerID, sender.calls[1].triggerID)
	assert.Equal(t, "daily:2026-01-03", sender.calls[2].triggerID)
}

func TestStart_SchedulesAndStops(t *testing.T) {
	s := New(&fakeSender{}, Config{At: "07:00", Location: time.UTC, Channels: []string{"email"}}, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	jobs := s.cron.Jobs()
	require.Len(t, jobs, 1)
	next := jobs[0].NextRun()
	assert.Equal(t, 7, next.In(time.UTC).Hour())
	assert.Equal(t, 0, next.In(time.UTC).Minute())
	assert.WithinDuration(t, time.Now(), next, 24*time.Hour+time.Minute)
}

func TestStart_NoChannelsIsNoop(t *testing.T) {
	s := New(&fakeSender{}, Config{At: "07:00"}, nil)
	require.NoError(t, s.Start())
	assert.Empty(t, s.cron.Jobs())
	s.Stop()
}

func TestStart_InvalidTime(t *testing.T) {
	s := New(&fakeSender{}, Config{At: "7am", Channels: []string{"email"}}, nil)
	assert.Error(t, s.Start())
}
