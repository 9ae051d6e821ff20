package service

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"DocChat/server/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowTurns(t *testing.T) {
	var turns []model.Turn
	turns = append(turns, model.SystemTurn("old instruction"))
	for i := 0; i < 4; i++ {
		turns = append(turns, model.UserTurn("q"), model.AssistantTurn("a"))
	}
	turns[len(turns)-1] = model.AssistantTurn("latest")

	got := WindowTurns(turns, 3, "fresh")
	require.Len(t, got, 4)
	assert.Equal(t, model.SystemTurn("fresh"), got[0])
	assert.Equal(t, model.AssistantTurn("latest"), got[3])

	short := WindowTurns([]model.Turn{model.UserTurn("hi")}, 5, "fresh")
	assert.Equal(t, []model.Turn{model.SystemTurn("fresh"), model.UserTurn("hi")}, short)

	empty := WindowTurns(nil, 5, "fresh")
	assert.Equal(t, []model.Turn{model.SystemTurn("fresh")}, empty)
}

func TestVisibleTurns(t *testing.T) {
	got := VisibleTurns([]model.Turn{model.SystemTurn("s"), model.UserTurn("u"), model.SystemTurn("ctx"), model.AssistantTurn("a")})
	assert.Equal(t, []model.Turn{model.UserTurn("u"), model.AssistantTurn("a")}, got)
	assert.Empty(t, VisibleTurns(nil))
}

func TestKeyLock(t *testing.T) {
	kl := NewKeyLock()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := kl.Lock("u1")
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxInside)
	assert.Zero(t, kl.size(), "entries are released")

	// different keys do not block each other
	a := kl.Lock("a")
	b := kl.Lock("b")
	a()
	b()
	a() // second call is a no-op
	assert.Zero(t, kl.size())
}

func TestSession_StateMachine(t *testing.T) {
	s := NewSession("trace")
	assert.Equal(t, StateConnecting, s.State())
	assert.NotEmpty(t, s.ConnectionID)

	assert.Error(t, s.Activate(), "cannot skip authentication")
	assert.ErrorIs(t, s.Authenticate(""), ErrAuthentication)

	require.NoError(t, s.Authenticate("u1"))
	assert.Error(t, s.Authenticate("u2"), "identity is bound once")
	assert.Equal(t, "u1", s.UserID())

	require.NoError(t, s.Activate())
	assert.True(t, s.Active())

	s.Close()
	s.Close()
	assert.Equal(t, StateClosed, s.State())
	assert.False(t, s.Active())
	assert.Equal(t, "u1", s.UserID())
}
