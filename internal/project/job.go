package project

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/piwi3910/GangNest/internal/model"
	"github.com/pkg/errors"
)

// JobVersion is written into every saved job file.
const JobVersion = "1.0.0"

// Job is a saved nesting request, optionally with the result it produced.
// The CLI writes one next to exported PDFs so a run can be replayed or
// compared later.
type Job struct {
	Version   string               `json:"version"`
	CreatedAt time.Time            `json:"created_at"`
	Request   model.NestingRequest `json:"request"`
	Result    *model.NestingResult `json:"result,omitempty"`
}

// NewJob stamps req and result with the current version and time.
func NewJob(req model.NestingRequest, result *model.NestingResult) Job {
	return Job{
		Version:   JobVersion,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Request:   req,
		Result:    result,
	}
}

// SaveJob writes job as indented JSON, creating parent directories.
func SaveJob(path string, job Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal job")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create job directory")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write job file")
	}
	return nil
}

// LoadJob reads a job file written by SaveJob.
func LoadJob(path string) (Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Job{}, errors.Wrap(err, "failed to read job file")
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, errors.Wrap(err, "failed to parse job file")
	}
	if job.Version == "" {
		return Job{}, errors.New("invalid job file: missing version field")
	}
	if len(job.Request.Pieces) == 0 {
		return Job{}, errors.New("invalid job file: request has no pieces")
	}
	return job, nil
}
