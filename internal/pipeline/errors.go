package pipeline

import "fmt"

// Stage names a step of the ingestion state machine.
type Stage string

// Pipeline stages in execution order.
const (
	StageValidate        Stage = "validate"
	StageFetch           Stage = "fetch"
	StageDedupCheck      Stage = "dedup_check"
	StageNormalize       Stage = "normalize"
	StageStoreRaw        Stage = "store_raw"
	StageStoreNormalized Stage = "store_normalized"
	StageMark            Stage = "mark"
)

// StageError reports the stage and query a job failed at.
type StageError struct {
	Stage Stage
	Query string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed for query %q: %v", e.Stage, e.Query, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, query string, err error) error {
	return &StageError{Stage: stage, Query: query, Err: err}
}
