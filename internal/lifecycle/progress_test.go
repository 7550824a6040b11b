package lifecycle

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TWRT/task-lifecycle/internal/models"
)

func TestParsePercent(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"45", 45},
		{" 45% ", 45},
		{`"60%"`, 60},
		{"72.6", 73},
		{"72,4", 72},
		{"0.45", 45},
		{"1.0", 100},
		{"1", 1},
		{"0", 0},
		{"-5", -5},
		{"140", 140},
		{"1e12", 1_000_000_000},
	}
	for _, tt := range tests {
		got, err := ParsePercent(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	for _, raw := range []string{"", "%", "abc", "NaN", "Inf"} {
		_, err := ParsePercent(raw)
		assert.Error(t, err, raw)
	}
}

func TestClamp_LogsCorrection(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressTracker(slog.New(slog.NewJSONHandler(&buf, nil)))

	assert.Equal(t, 0, p.Clamp("t1", -5))
	assert.Contains(t, buf.String(), "recoverable correction")
	assert.Contains(t, buf.String(), `"raw":-5`)

	buf.Reset()
	assert.Equal(t, 55, p.Clamp("t1", 55))
	assert.Empty(t, buf.String())
}

func TestProgressApply(t *testing.T) {
	p := NewProgressTracker(nil)
	task := models.Task{ID: "t1", CompletionPercent: 20, Collaborators: []string{"old"}}

	assert.False(t, p.Apply(&task, ProgressUpdate{}))
	assert.Equal(t, 20, task.CompletionPercent)

	pct := 100
	assert.True(t, p.Apply(&task, ProgressUpdate{Percent: &pct, Collaborators: []string{}}))
	assert.Equal(t, 100, task.CompletionPercent)
	assert.False(t, task.IsCompleted)
	assert.Empty(t, task.Collaborators)
}

func TestNormalizeCollaborators(t *testing.T) {
	got := NormalizeCollaborators([]string{" ana , bia", "ana", ",, ", "caio"})
	assert.Equal(t, []string{"ana", "bia", "caio"}, got)
	assert.Equal(t, []string{}, NormalizeCollaborators(nil))
}

func TestOwnershipLock(t *testing.T) {
	var o OwnershipLock
	task := models.Task{ID: "t1", Version: 1}

	changed, err := o.Claim(&task, " alice ", fixedTime)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "alice", task.OwnerOperator)
	assert.True(t, o.Holds(task, "alice"))
	assert.False(t, o.Holds(task, "Alice"))

	assert.NoError(t, o.CheckWriter(task, "alice"))
	assert.Equal(t, KindNotOwner, KindOf(o.CheckWriter(task, "bob")))

	o.Release(&task)
	assert.Empty(t, task.OwnerOperator)
	assert.Equal(t, "alice", task.PreviousOwner)
	assert.NoError(t, o.CheckWriter(task, "bob"))

	o.Restore(&task, false, fixedTime)
	assert.Equal(t, "alice", task.OwnerOperator)
	require.NotNil(t, task.ClaimedAt)

	o.Release(&task)
	o.Restore(&task, true, fixedTime)
	assert.Empty(t, task.OwnerOperator)
	assert.Nil(t, task.ClaimedAt)
	assert.Empty(t, task.PreviousOwner)
}
