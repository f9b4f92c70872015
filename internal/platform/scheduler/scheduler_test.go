package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSchedule_InvalidCronExprErrors(t *testing.T) {
	s := New("", func(context.Context, string, map[string]interface{}) {})
	_, err := s.AddSchedule("wf-1", "not a cron expr")
	require.Error(t, err)
}

func TestAddSchedule_ValidExprRegistersEntry(t *testing.T) {
	s := New("", func(context.Context, string, map[string]interface{}) {})
	entry, err := s.AddSchedule("wf-1", "*/5 * * * * *")
	require.NoError(t, err)
	assert.Len(t, s.ListSchedules(), 1)

	s.RemoveSchedule(entry.ID)
	assert.Len(t, s.ListSchedules(), 0)
}

func TestResumeSweeper_CallsResumeForEachDueID(t *testing.T) {
	var resumed int32
	sweeper := NewResumeSweeper(10*time.Millisecond,
		func(context.Context) ([]string, error) { return []string{"exec-1", "exec-2"}, nil },
		func(context.Context, string) { atomic.AddInt32(&resumed, 1) },
	)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	sweeper.Start(ctx)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&resumed), int32(2))
}
