package tptbmapi

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

type StatusCode string

const (
	StatusIdle    StatusCode = "Idle"
	StatusBusy    StatusCode = "Busy"
	StatusFailed  StatusCode = "Failed"
	StatusStopped StatusCode = "Stopped"
)

type TaskName string

const (
	TaskBuild   TaskName = "tptbm/build"
	TaskRun     TaskName = "tptbm/run"
	TaskCleanup TaskName = "tptbm/cleanup"
	TaskCheck   TaskName = "tptbm/check"
)

// RunStatus is served by the status endpoint while a benchmark runs.
type RunStatus struct {
	RunID   string       `json:"run_id,omitempty"`
	Task    TaskName     `json:"task,omitempty"`
	Code    StatusCode   `json:"code"`
	Error   string       `json:"error,omitempty"`
	Workers []SlotStatus `json:"workers,omitempty"`
}

type SlotStatus struct {
	Ordinal int    `json:"ordinal"`
	State   string `json:"state"`
}

type OpStats struct {
	Operation    string  `json:"operation"`
	Count        int64   `json:"count"`
	NoData       int64   `json:"no_data"`
	LockTimeouts int64   `json:"lock_timeouts"`
	Avg          float64 `json:"avg_ms"`
	Median       float64 `json:"median_ms"`
	P99          float64 `json:"p99_ms"`
	Max          float64 `json:"max_ms"`
}

type Sample float64

func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(s))
}

func (s *Sample) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*s = Sample(value)
		return nil
	case string:
		tmp, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		*s = Sample(tmp)
		return nil
	default:
		return errors.New("invalid sample")
	}
}

type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		return err
	default:
		return errors.New("invalid duration")
	}
}

func GetOptValue[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}

func Ptr[T any](v T) *T {
	return &v
}
