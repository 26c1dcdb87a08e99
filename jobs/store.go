package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names.
const (
	BucketJobs    = "SEMGRAPH_JOBS"
	BucketContent = "SEMGRAPH_CONTENT"
)

// Store errors.
var (
	// ErrNotFound is returned when a job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrJobExists is returned when creating a job whose id is taken.
	ErrJobExists = errors.New("job already exists")

	// ErrRevisionConflict is returned when an Update loses a CAS race.
	ErrRevisionConflict = errors.New("job revision conflict")
)

// Filter selects jobs in List. Zero fields match everything.
type Filter struct {
	Status    Status
	Principal string
	Ontology  string
	Type      Type
	Limit     int
}

// Store provides job and content storage backed by NATS JetStream.
type Store struct {
	jobs    jetstream.KeyValue
	content jetstream.ObjectStore
	logger  *slog.Logger
}

// NewStore creates a Store, creating the KV and object store buckets if
// they don't exist.
func NewStore(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	jobs, err := getOrCreateBucket(ctx, js, BucketJobs)
	if err != nil {
		return nil, fmt.Errorf("create jobs bucket: %w", err)
	}

	content, err := getOrCreateObjectStore(ctx, js, BucketContent)
	if err != nil {
		return nil, fmt.Errorf("create content bucket: %w", err)
	}

	return &Store{jobs: jobs, content: content, logger: logger}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Semgraph %s storage", strings.ToLower(name)),
		History:     5, // Keep last 5 revisions
	})
}

func getOrCreateObjectStore(ctx context.Context, js jetstream.JetStream, name string) (jetstream.ObjectStore, error) {
	os, err := js.ObjectStore(ctx, name)
	if err == nil {
		return os, nil
	}
	return js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      name,
		Description: "Semgraph submitted document content",
	})
}

// Create stores a new job. Fails with ErrJobExists if the id is taken.
func (s *Store) Create(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	if _, err := s.jobs.Create(ctx, job.ID, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return ErrJobExists
		}
		return fmt.Errorf("store job: %w", err)
	}

	return nil
}

// Get retrieves a job and its KV revision for later CAS updates.
func (s *Store) Get(ctx context.Context, id string) (*Job, uint64, error) {
	entry, err := s.jobs.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("get job: %w", err)
	}

	var job Job
	if err := json.Unmarshal(entry.Value(), &job); err != nil {
		return nil, 0, fmt.Errorf("unmarshal job: %w", err)
	}

	return &job, entry.Revision(), nil
}

// Update writes the job if the stored revision still matches, returning the
// new revision. A stale revision yields ErrRevisionConflict.
func (s *Store) Update(ctx context.Context, job *Job, revision uint64) (uint64, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return 0, fmt.Errorf("marshal job: %w", err)
	}

	rev, err := s.jobs.Update(ctx, job.ID, data, revision)
	if err != nil {
		if isRevisionMismatch(err) {
			return 0, ErrRevisionConflict
		}
		return 0, fmt.Errorf("update job: %w", err)
	}

	return rev, nil
}

// maxMutateAttempts bounds the CAS retry loop in Mutate.
const maxMutateAttempts = 5

// Mutate applies fn to the current job record under a CAS loop. fn runs
// against a fresh copy on each attempt; an error from fn aborts the loop.
func (s *Store) Mutate(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	var lastErr error
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		job, rev, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := fn(job); err != nil {
			return nil, err
		}

		if _, err := s.Update(ctx, job, rev); err != nil {
			if errors.Is(err, ErrRevisionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		return job, nil
	}

	return nil, fmt.Errorf("mutate job %s: %w", id, lastErr)
}

// Transition moves a job to a new status through the state machine,
// retrying on concurrent writers.
func (s *Store) Transition(ctx context.Context, id string, to Status, actor, reason string) (*Job, error) {
	return s.Mutate(ctx, id, func(job *Job) error {
		return job.SetStatus(to, actor, reason)
	})
}

// List returns jobs matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Job, error) {
	keys, err := s.jobs.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list job keys: %w", err)
	}

	matched := make([]*Job, 0, len(keys))
	for _, key := range keys {
		entry, err := s.jobs.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var job Job
		if err := json.Unmarshal(entry.Value(), &job); err != nil {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Principal != "" && job.Principal != filter.Principal {
			continue
		}
		if filter.Ontology != "" && job.Ontology != filter.Ontology {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		matched = append(matched, &job)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	return matched, nil
}

// FindByContentHash returns the newest job for the same content, principal,
// and ontology whose status is in the given set, or ErrNotFound.
func (s *Store) FindByContentHash(ctx context.Context, hash, principal, ontology string, statuses []Status) (*Job, error) {
	all, err := s.List(ctx, Filter{Principal: principal, Ontology: ontology})
	if err != nil {
		return nil, err
	}

	for _, job := range all {
		if job.ContentHash != hash {
			continue
		}
		for _, status := range statuses {
			if job.Status == status {
				return job, nil
			}
		}
	}

	return nil, ErrNotFound
}

// Delete removes a job record and its stored content.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.DeleteContent(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warn("Failed to delete job content", "job_id", id, "error", err)
	}

	if err := s.jobs.Delete(ctx, id); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete job: %w", err)
	}

	return nil
}

// Watch returns a KV watcher for a single job key. The caller must Stop it.
func (s *Store) Watch(ctx context.Context, id string) (jetstream.KeyWatcher, error) {
	watcher, err := s.jobs.Watch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("watch job: %w", err)
	}
	return watcher, nil
}

// PutContent stores submitted content under the job id and returns the
// content_ref to record on the job.
func (s *Store) PutContent(ctx context.Context, jobID string, data []byte) (string, error) {
	if _, err := s.content.PutBytes(ctx, jobID, data); err != nil {
		return "", fmt.Errorf("store content: %w", err)
	}
	return fmt.Sprintf("nats-obj://%s/%s", BucketContent, jobID), nil
}

// GetContent retrieves submitted content by job id.
func (s *Store) GetContent(ctx context.Context, jobID string) ([]byte, error) {
	data, err := s.content.GetBytes(ctx, jobID)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get content: %w", err)
	}
	return data, nil
}

// DeleteContent removes stored content for a job.
func (s *Store) DeleteContent(ctx context.Context, jobID string) error {
	if err := s.content.Delete(ctx, jobID); err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete content: %w", err)
	}
	return nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) ||
		(err != nil && strings.Contains(err.Error(), "key not found"))
}

// isRevisionMismatch checks if an error indicates a lost CAS update.
func isRevisionMismatch(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "wrong last sequence")
}
