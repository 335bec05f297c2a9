package models

import (
	"time"
)

// JobState is a step of the acquisition/composition state machine
type JobState string

// JobState constants
const (
	JobStateAcquired      JobState = "acquired"
	JobStateMerging       JobState = "merging"
	JobStateSubtitleFetch JobState = "subtitle_fetch"
	JobStateSubtitleBurn  JobState = "subtitle_burn"
	JobStateReady         JobState = "ready"
	JobStateFailed        JobState = "failed"
)

var jobTransitions = map[JobState][]JobState{
	JobStateAcquired:      {JobStateMerging, JobStateFailed},
	JobStateMerging:       {JobStateSubtitleFetch, JobStateReady, JobStateFailed},
	JobStateSubtitleFetch: {JobStateSubtitleBurn, JobStateReady, JobStateFailed},
	JobStateSubtitleBurn:  {JobStateReady, JobStateFailed},
}

// CanTransition reports whether from -> to is a legal step
func CanTransition(from, to JobState) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AcquisitionJob tracks one item from acquired streams to a ready file.
// It owns every file under WorkDir until the output is handed to the store.
type AcquisitionJob struct {
	ID         string
	SourceURL  string
	Title      string
	WorkDir    string
	State      JobState
	History    []JobState
	VideoPath  string
	AudioPath  string
	Height     int
	MergedPath string
	// SubtitlePath is the caption file used for burn-in, if any
	SubtitlePath string
	OutputPath   string
	// SubtitleFallback is set when a caption was requested but none existed
	SubtitleFallback bool
	Err              error
	CreatedAt        time.Time
}

// NewAcquisitionJob creates a job in the acquired state
func NewAcquisitionJob(id, sourceURL, title, workDir string) *AcquisitionJob {
	return &AcquisitionJob{
		ID:        id,
		SourceURL: sourceURL,
		Title:     title,
		WorkDir:   workDir,
		State:     JobStateAcquired,
		History:   []JobState{JobStateAcquired},
		CreatedAt: time.Now(),
	}
}

// Transition moves the job to state. Illegal transitions return false and
// leave the job untouched.
func (j *AcquisitionJob) Transition(state JobState) bool {
	if !CanTransition(j.State, state) {
		return false
	}
	j.State = state
	j.History = append(j.History, state)
	return true
}

// Fail moves the job to the failed state and records err
func (j *AcquisitionJob) Fail(err error) {
	j.Transition(JobStateFailed)
	j.Err = err
}
