package job

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"dlcore/event"
	"dlcore/task"
)

func TestJob_AggregatesProgressAcrossTasks(t *testing.T) {
	a := task.New("http://h/a.bin", "a.bin", nil, nil)
	b := task.New("http://h/b.bin", "b.bin", nil, nil)

	j := New([]*task.Task{a, b})

	var mu sync.Mutex
	var lastLoaded, lastTotal int64
	j.Events.On(event.Progress, func(payload any) {
		p := payload.(event.JobProgressPayload)
		mu.Lock()
		lastLoaded, lastTotal = p.Loaded, p.Total
		mu.Unlock()
	})

	a.Events.Emit(event.Progress, event.ProgressPayload{Loaded: 10, Total: 100})
	b.Events.Emit(event.Progress, event.ProgressPayload{Loaded: 20, Total: 200})

	mu.Lock()
	require.Equal(t, int64(30), lastLoaded)
	require.Equal(t, int64(300), lastTotal)
	mu.Unlock()

	loaded, total := j.Progress()
	require.Equal(t, int64(30), loaded)
	require.Equal(t, int64(300), total)
}

func TestJob_CompletesWhenAllTasksTerminal(t *testing.T) {
	a := task.New("http://h/a.bin", "a.bin", nil, nil)
	b := task.New("http://h/b.bin", "b.bin", nil, nil)

	j := New([]*task.Task{a, b})

	var completed bool
	j.Events.On(event.Complete, func(payload any) {
		completed = true
	})

	a.Events.Emit(event.Complete, nil)
	require.False(t, completed)
	require.False(t, j.Done())

	b.Events.Emit(event.Error, event.ErrorPayload{})
	require.True(t, completed)
	require.True(t, j.Done())
}
