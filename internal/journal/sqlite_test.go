//go:build sqlite

package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "wsched/pkg/logx"
)

func TestSQLiteStoreAppendAndRecent(t *testing.T) {
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "journal.db"), BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	run := NewRunID()
	base := time.Now()
	for i := 1; i <= 4; i++ {
		require.NoError(t, st.Append(ctx, Record{RunID: run, Seq: uint64(i), At: base.Add(time.Duration(i) * time.Millisecond), Type: "worker.spawned", Worker: i}))
	}
	require.NoError(t, st.Append(ctx, Record{RunID: run, Seq: 5, At: base.Add(5 * time.Millisecond), Type: "task.panic", Worker: 0, Task: 9, Error: "boom"}))

	recs, err := st.Recent(ctx, run, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.EqualValues(t, 4, recs[0].Seq)
	require.Equal(t, "task.panic", recs[1].Type)
	require.EqualValues(t, 9, recs[1].Task)
	require.Equal(t, "boom", recs[1].Error)
}
