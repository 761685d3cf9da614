package sampler

import "codeberg.org/mutker/sensorbridge/internal/errors"

const (
	ErrNoTasks      = errors.ErrorCode("sampler_no_tasks")
	ErrEmptyTask    = errors.ErrorCode("sampler_empty_task")
	ErrMissingLabel = errors.ErrorCode("sampler_missing_label")
)
