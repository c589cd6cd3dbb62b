package mocks

import (
	"context"
	"sync"

	"lessonforge/pkg/fixmemory"
)

// RecordingMemory is an in-memory Fix-Memory that records every call.
//
//nolint:govet // fieldalignment: mock struct layout optimized for readability
type RecordingMemory struct {
	Commits     []fixmemory.Record
	Queries     []fixmemory.Query
	Generations []string

	// Similar is returned from FindSimilar.
	Similar []fixmemory.Record
	// Examples is returned from PreventiveExamples.
	Examples []fixmemory.Example
	// CommitFails makes Commit report failure.
	CommitFails bool

	mu sync.Mutex
}

// NewRecordingMemory creates an empty recording memory.
func NewRecordingMemory() *RecordingMemory {
	return &RecordingMemory{}
}

// Commit records r.
func (m *RecordingMemory) Commit(_ context.Context, r fixmemory.Record) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CommitFails {
		return false
	}
	if r.Signature == "" {
		r.Signature = fixmemory.Signature(r.ErrorMessage, r.OriginalCode)
	}
	m.Commits = append(m.Commits, r)
	return true
}

// FindSimilar records q and returns Similar.
func (m *RecordingMemory) FindSimilar(_ context.Context, q fixmemory.Query) []fixmemory.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queries = append(m.Queries, q)
	return append([]fixmemory.Record{}, m.Similar...)
}

// PreventiveExamples returns Examples.
func (m *RecordingMemory) PreventiveExamples(context.Context, string, string, int) []fixmemory.Example {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]fixmemory.Example{}, m.Examples...)
}

// RecordGeneration records the description.
func (m *RecordingMemory) RecordGeneration(_ context.Context, description, _, _, _ string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Generations = append(m.Generations, description)
	return true
}

// CommitCount returns the number of successful commits.
func (m *RecordingMemory) CommitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Commits)
}

// CommittedRecords returns a copy of the committed records.
func (m *RecordingMemory) CommittedRecords() []fixmemory.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]fixmemory.Record{}, m.Commits...)
}

// Upload is one recorded on-success callback.
type Upload struct {
	Scene        int
	ArtifactPath string
}

// RecordingUploader records on-success callbacks.
type RecordingUploader struct {
	Uploads []Upload
	// Err is returned from every callback.
	Err error
	mu  sync.Mutex
}

// OnSuccess matches the scene loop's success callback.
func (u *RecordingUploader) OnSuccess(_ context.Context, scene int, artifactPath string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Uploads = append(u.Uploads, Upload{Scene: scene, ArtifactPath: artifactPath})
	return u.Err
}

// Count returns the number of callbacks.
func (u *RecordingUploader) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.Uploads)
}
