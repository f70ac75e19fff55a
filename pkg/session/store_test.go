package session_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/askdoc/internal/models"
	"github.com/xhad/askdoc/internal/types"
	"github.com/xhad/askdoc/pkg/session"
)

func doc(id string) *types.DocumentContext {
	return &types.DocumentContext{ID: id, Name: id + ".txt"}
}

func TestCreateOrReplace_NewID(t *testing.T) {
	st := session.NewStore(session.StoreConfig{})

	id, err := st.CreateOrReplace("", doc("a"))
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	s, err := st.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "a", s.Context().ID)
	assert.Empty(t, s.History())

	other, err := st.CreateOrReplace("", doc("b"))
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
	assert.Equal(t, 2, st.Len())
}

func TestCreateOrReplace_KeepsSuppliedID(t *testing.T) {
	st := session.NewStore(session.StoreConfig{})

	id, err := st.CreateOrReplace("my-session", doc("a"))
	require.NoError(t, err)
	assert.Equal(t, "my-session", id)

	_, err = st.CreateOrReplace("x", nil)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestCreateOrReplace_ResetsHistoryAndReleases(t *testing.T) {
	var released []string
	st := session.NewStore(session.StoreConfig{
		OnRelease: func(d *types.DocumentContext) { released = append(released, d.ID) },
	})

	id, err := st.CreateOrReplace("s", doc("first"))
	require.NoError(t, err)
	require.NoError(t, st.AppendTurn(id, "q", "a"))

	_, err = st.CreateOrReplace(id, doc("second"))
	require.NoError(t, err)

	s, err := st.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "second", s.Context().ID)
	assert.Empty(t, s.History())
	assert.Equal(t, []string{"first"}, released)
	assert.Equal(t, 1, st.Len())
}

func TestGet_Unknown(t *testing.T) {
	st := session.NewStore(session.StoreConfig{})
	_, err := st.Get("nope")
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
	assert.ErrorIs(t, st.AppendTurn("nope", "q", "a"), types.ErrSessionNotFound)
	assert.ErrorIs(t, st.Delete("nope"), types.ErrSessionNotFound)
}

func TestAppendTurn_OrderAndTrim(t *testing.T) {
	st := session.NewStore(session.StoreConfig{MaxHistory: 4})
	id, err := st.CreateOrReplace("", doc("a"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, st.AppendTurn(id, fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
	}

	s, err := st.Get(id)
	require.NoError(t, err)
	history := s.History()
	require.Len(t, history, 4)
	assert.Equal(t, models.Message{Role: models.RoleHuman, Content: "q1", Time: history[0].Time}, history[0])
	assert.Equal(t, "a1", history[1].Content)
	assert.Equal(t, models.RoleAI, history[1].Role)
	assert.Equal(t, "q2", history[2].Content)
	assert.Equal(t, "a2", history[3].Content)

	history[0].Content = "mutated"
	assert.Equal(t, "q1", s.History()[0].Content)
}

func TestDelete(t *testing.T) {
	var released []string
	st := session.NewStore(session.StoreConfig{
		OnRelease: func(d *types.DocumentContext) { released = append(released, d.ID) },
	})
	id, err := st.CreateOrReplace("", doc("a"))
	require.NoError(t, err)

	require.NoError(t, st.Delete(id))
	assert.Equal(t, 0, st.Len())
	assert.Equal(t, []string{"a"}, released)

	_, err = st.Get(id)
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
}

func TestRecordTurn(t *testing.T) {
	st := session.NewStore(session.StoreConfig{})
	first := doc("a")
	_, err := st.CreateOrReplace("s1", first)
	require.NoError(t, err)
	s, err := st.Get("s1")
	require.NoError(t, err)

	assert.True(t, st.RecordTurn(s, first, "q1", "a1"))
	require.Len(t, s.History(), 2)

	// Replaced context: the stale turn is dropped.
	_, err = st.CreateOrReplace("s1", doc("b"))
	require.NoError(t, err)
	assert.False(t, st.RecordTurn(s, first, "q2", "a2"))
	assert.Empty(t, s.History())
}

func TestRecordTurn_DeletedThenRecreated(t *testing.T) {
	st := session.NewStore(session.StoreConfig{})
	first := doc("old")
	_, err := st.CreateOrReplace("s1", first)
	require.NoError(t, err)
	stale, err := st.Get("s1")
	require.NoError(t, err)

	require.NoError(t, st.Delete("s1"))
	_, err = st.CreateOrReplace("s1", doc("new"))
	require.NoError(t, err)

	assert.False(t, st.RecordTurn(stale, first, "q", "a"))
	assert.Nil(t, stale.Context())

	fresh, err := st.Get("s1")
	require.NoError(t, err)
	assert.Empty(t, fresh.History())
	assert.Equal(t, "new", fresh.Context().ID)
}

func TestCreateOrReplace_ConcurrentDelete(t *testing.T) {
	var mu sync.Mutex
	released := map[string]int{}
	st := session.NewStore(session.StoreConfig{
		OnRelease: func(d *types.DocumentContext) { mu.Lock(); released[d.ID]++; mu.Unlock() },
	})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := st.CreateOrReplace("shared", doc(fmt.Sprint(i)))
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			_ = st.Delete("shared")
		}()
	}
	wg.Wait()
	st.Close()

	// Every context is released exactly once, whether replaced, deleted or
	// closed.
	assert.Len(t, released, n)
	for id, count := range released {
		assert.Equal(t, 1, count, "context %s", id)
	}
}

func TestEvictIdle(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	var released []string
	st := session.NewStore(session.StoreConfig{
		Now:       func() time.Time { return clock },
		OnRelease: func(d *types.DocumentContext) { released = append(released, d.ID) },
	})

	_, err := st.CreateOrReplace("old", doc("old"))
	require.NoError(t, err)
	clock = now.Add(50 * time.Minute)
	_, err = st.CreateOrReplace("fresh", doc("fresh"))
	require.NoError(t, err)

	assert.Equal(t, 0, st.EvictIdle(now.Add(time.Hour), 0))
	assert.Equal(t, 1, st.EvictIdle(now.Add(61*time.Minute), time.Hour))
	assert.Equal(t, []string{"old"}, released)

	_, err = st.Get("fresh")
	assert.NoError(t, err)
	_, err = st.Get("old")
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
}

func TestClose(t *testing.T) {
	var mu sync.Mutex
	released := 0
	st := session.NewStore(session.StoreConfig{
		OnRelease: func(*types.DocumentContext) { mu.Lock(); released++; mu.Unlock() },
	})
	for i := 0; i < 3; i++ {
		_, err := st.CreateOrReplace("", doc(fmt.Sprint(i)))
		require.NoError(t, err)
	}
	st.Close()
	assert.Equal(t, 0, st.Len())
	assert.Equal(t, 3, released)
}

func TestSession_DoSerialisesTurns(t *testing.T) {
	st := session.NewStore(session.StoreConfig{MaxHistory: 1000})
	id, err := st.CreateOrReplace("", doc("a"))
	require.NoError(t, err)
	s, err := st.Get(id)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Do(func() error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)
				err := st.AppendTurn(id, fmt.Sprint("q", i), fmt.Sprint("a", i))

				mu.Lock()
				inside--
				mu.Unlock()
				return err
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	history := s.History()
	require.Len(t, history, 40)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, models.RoleHuman, history[i].Role)
		assert.Equal(t, models.RoleAI, history[i+1].Role)
		assert.Equal(t, history[i].Content[1:], history[i+1].Content[1:])
	}
}

func TestStore_ConcurrentSessions(t *testing.T) {
	st := session.NewStore(session.StoreConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := st.CreateOrReplace("", doc("d"))
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, st.AppendTurn(id, "q", "a"))
			_, err = st.Get(id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, st.Len())
}
