package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func attLog(t *testing.T) map[string]json.RawMessage {
	t.Helper()
	return map[string]json.RawMessage{
		"ATT": json.RawMessage(`{
			"time_boot_ms": {"0": 1000, "1": 2000, "2": 3000},
			"Roll": {"0": 1.5, "1": 2.5, "2": 3.5},
			"Pitch": {"0": -0.5, "1": 0.0, "2": 0.5}
		}`),
	}
}

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry(time.Hour)
	defer r.Close()

	sess, err := r.Create(attLog(t))
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	require.Equal(t, []string{"att_data"}, sess.Summary.TablesCreated)

	got, err := r.Get(sess.ID)
	require.NoError(t, err)
	require.Same(t, sess, got)

	_, err = r.Get("no-such-session")
	require.Error(t, err)
}

func TestCreateRejectsEmptyLog(t *testing.T) {
	r := NewRegistry(time.Hour)
	defer r.Close()

	_, err := r.Create(map[string]json.RawMessage{})
	require.Error(t, err)
	require.Equal(t, 0, r.Stats().ActiveSessions)
}

func TestHistoryWindow(t *testing.T) {
	r := NewRegistry(time.Hour)
	defer r.Close()

	sess, err := r.Create(attLog(t))
	require.NoError(t, err)

	sess.Lock()
	for i := 0; i < 25; i++ {
		sess.AppendTurn("user", "question")
	}
	history := sess.History()
	sess.Unlock()

	require.Len(t, history, historyWindow)
	require.Equal(t, 25, sess.MessageCount())
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	idle, err := r.Create(attLog(t))
	require.NoError(t, err)
	fresh, err := r.Create(attLog(t))
	require.NoError(t, err)

	idle.LastAccess = time.Now().Add(-2 * time.Minute)

	require.Equal(t, 1, r.Sweep())
	_, err = r.Get(idle.ID)
	require.Error(t, err)
	_, err = r.Get(fresh.ID)
	require.NoError(t, err)
}

func TestGetEvictsExpiredOnTouch(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	sess, err := r.Create(attLog(t))
	require.NoError(t, err)
	sess.LastAccess = time.Now().Add(-2 * time.Minute)

	_, err = r.Get(sess.ID)
	require.Error(t, err)
	require.Equal(t, 0, r.Stats().ActiveSessions)
}

func TestSweeperShutsDownCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry(time.Minute)
	r.StartSweeper(10 * time.Millisecond)

	_, err := r.Create(attLog(t))
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	r.Close()
	require.Equal(t, 0, r.Stats().ActiveSessions)
}

func TestStats(t *testing.T) {
	r := NewRegistry(time.Hour)
	defer r.Close()

	a, err := r.Create(attLog(t))
	require.NoError(t, err)
	_, err = r.Create(attLog(t))
	require.NoError(t, err)

	a.Lock()
	a.AppendTurn("user", "hello")
	a.AppendTurn("model", "hi")
	a.Unlock()

	st := r.Stats()
	require.Equal(t, 2, st.ActiveSessions)
	require.Equal(t, 2, st.TotalMessages)
	require.Equal(t, 2, st.TotalTables)
	require.False(t, st.OldestCreated.IsZero())
}
