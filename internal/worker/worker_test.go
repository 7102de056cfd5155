package worker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tptbm/api/tptbmapi"
	"tptbm/pkg/dbdriver"
)

func TestOpenDB(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Target: dbdriver.Target{Driver: "sqlite", Service: filepath.Join(t.TempDir(), "bench.db")}}

	db, d, err := OpenDB(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()
	require.Equal(t, "sqlite", d.Name)
	require.NoError(t, db.PingContext(ctx))

	_, _, err = OpenDB(ctx, Config{Target: dbdriver.Target{Driver: "oracle"}})
	require.Error(t, err)
}

func TestTaskExecChecksReadiness(t *testing.T) {
	ran := false
	task := Task{
		Name: tptbmapi.TaskCheck,
		Task: func(context.Context) (any, error) {
			ran = true
			return 1, nil
		},
		CheckReady: func(context.Context) (bool, error) { return false, context.Canceled },
	}
	_, err := task.Exec(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, ran)

	task.CheckReady = nil
	v, err := task.Exec(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, v)
}
