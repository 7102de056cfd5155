package worker

import (
	"context"
	"database/sql"

	"tptbm/api/tptbmapi"
	"tptbm/pkg/dbdriver"
)

// Config is the connection configuration shared by all tasks.
type Config struct {
	Target dbdriver.Target
}

// OpenDB opens the single connection a task or worker runs on.
func OpenDB(ctx context.Context, cfg Config) (*sql.DB, *dbdriver.Dialect, error) {
	return dbdriver.Open(ctx, cfg.Target)
}

type Task struct {
	Name       tptbmapi.TaskName
	Task       func(context.Context) (any, error)
	CheckReady func(context.Context) (bool, error)
}

func (t *Task) IsReady(ctx context.Context) (bool, error) {
	if t.CheckReady == nil {
		return true, nil
	}
	return t.CheckReady(ctx)
}

// Exec checks readiness and runs the task.
func (t *Task) Exec(ctx context.Context) (any, error) {
	if _, err := t.IsReady(ctx); err != nil {
		return nil, err
	}
	return t.Task(ctx)
}

type TaskFactory[Config any] interface {
	Prepare(config Config) (Task, error)
	Cleanup() (Task, error)
	Run(config Config) (Task, error)
}
