package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"intellidoc-pipeline/internal/domain"
	"intellidoc-pipeline/internal/domain/model"
	"intellidoc-pipeline/internal/domain/ports/repository"
)

// fakeTM runs the function directly; the in-memory repos are their own unit
// of atomicity.
type fakeTM struct{}

func (fakeTM) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, repository.NoTX)
}

// --- in-memory job repository ---

type memJobRepo struct {
	mu     sync.Mutex
	docs   map[string]*model.Document
	jobs   map[string]*model.Job
	stages map[string][]*model.StageRecord
}

var _ repository.JobRepository = (*memJobRepo)(nil)

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{
		docs:   make(map[string]*model.Document),
		jobs:   make(map[string]*model.Job),
		stages: make(map[string][]*model.StageRecord),
	}
}

func (r *memJobRepo) CreateJob(ctx context.Context, _ repository.Tx, doc *model.Document, job *model.Job, stages []*model.StageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, j := range r.jobs {
		if j.Status.Terminal() {
			continue
		}
		if d := r.docs[j.DocumentID]; d != nil && d.Locator == doc.Locator {
			return domain.ErrDuplicateSubmission
		}
	}

	now := time.Now()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.DocumentID = doc.ID
	job.CreatedAt = now
	job.UpdatedAt = now
	doc.UploadedAt = now

	r.docs[doc.ID] = doc
	r.jobs[job.ID] = job
	for _, sr := range stages {
		if sr.ID == "" {
			sr.ID = uuid.NewString()
		}
		sr.JobID = job.ID
		sr.CreatedAt = now
		if sr.NextRunAt.IsZero() {
			sr.NextRunAt = now
		}
	}
	r.stages[job.ID] = stages
	return nil
}

func (r *memJobRepo) FindJob(ctx context.Context, _ repository.Tx, jobID string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *memJobRepo) FindDocument(ctx context.Context, _ repository.Tx, documentID string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memJobRepo) ListStages(ctx context.Context, _ repository.Tx, jobID string) ([]*model.StageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stages, ok := r.stages[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]*model.StageRecord, len(stages))
	for i, sr := range stages {
		cp := *sr
		out[i] = &cp
	}
	return out, nil
}

func (r *memJobRepo) FindInFlightByLocator(ctx context.Context, _ repository.Tx, locator string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.Status.Terminal() {
			continue
		}
		if d := r.docs[j.DocumentID]; d != nil && d.Locator == locator {
			cp := *j
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memJobRepo) UpdateStage(ctx context.Context, _ repository.Tx, jobID, stage string, tr repository.StageTransition) error {
	if !tr.From.CanTransitionTo(tr.To) {
		return domain.ErrInvalidTransition
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var rec *model.StageRecord
	for _, sr := range r.stages[jobID] {
		if sr.Name == stage {
			rec = sr
			break
		}
	}
	if rec == nil {
		return domain.ErrNotFound
	}
	if rec.Status != tr.From {
		return domain.ErrInvalidTransition
	}

	now := time.Now()
	rec.Status = tr.To
	if tr.To == model.StageSucceeded {
		rec.OutputRef = tr.OutputRef
	}
	if tr.ErrorDetail != "" {
		rec.ErrorDetail = tr.ErrorDetail
	}
	if !tr.NextRunAt.IsZero() {
		rec.NextRunAt = tr.NextRunAt
	}
	if tr.To.Terminal() {
		rec.FinishedAt = &now
	}
	rec.UpdatedAt = now
	return nil
}

func (r *memJobRepo) SkipDependents(ctx context.Context, _ repository.Tx, jobID, failedStage string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stages := r.stages[jobID]
	doomed := map[string]bool{failedStage: true}
	for changed := true; changed; {
		changed = false
		for _, sr := range stages {
			if doomed[sr.Name] {
				continue
			}
			for _, dep := range sr.DependsOn {
				if doomed[dep] {
					doomed[sr.Name] = true
					changed = true
					break
				}
			}
		}
	}

	now := time.Now()
	var skipped []string
	for _, sr := range stages {
		if sr.Name == failedStage || !doomed[sr.Name] || sr.Status.Terminal() {
			continue
		}
		sr.Status = model.StageSkipped
		sr.FinishedAt = &now
		sr.UpdatedAt = now
		skipped = append(skipped, sr.Name)
	}
	return skipped, nil
}

func (r *memJobRepo) RecomputeProgress(ctx context.Context, _ repository.Tx, jobID string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.Status.Terminal() {
		cp := *job
		return &cp, nil
	}

	status, progress := model.DeriveJobState(r.stages[jobID])
	if progress < job.Progress {
		progress = job.Progress
	}
	if status == model.JobStatusFailed && job.Reason == "" {
		for _, sr := range r.stages[jobID] {
			if sr.Status == model.StageFailed {
				job.Reason = sr.Name + ": " + sr.ErrorDetail
				break
			}
		}
	}

	now := time.Now()
	if job.StartedAt == nil && status != model.JobStatusPending {
		job.StartedAt = &now
	}
	if status.Terminal() {
		job.CompletedAt = &now
	}
	job.Status = status
	job.Progress = progress
	job.UpdatedAt = now
	cp := *job
	return &cp, nil
}

func (r *memJobRepo) ClaimRunnable(ctx context.Context, class string) (*model.StageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var best *model.StageRecord
	for jobID, stages := range r.stages {
		job := r.jobs[jobID]
		if job == nil || job.Status.Terminal() {
			continue
		}
		for _, sr := range stages {
			if sr.Class != class || sr.Status != model.StagePending || sr.NextRunAt.After(now) {
				continue
			}
			if !sr.Ready(stages) {
				continue
			}
			if best == nil || sr.CreatedAt.Before(best.CreatedAt) {
				best = sr
			}
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}

	best.Status = model.StageRunning
	best.Attempts++
	if best.StartedAt == nil {
		best.StartedAt = &now
	}
	best.UpdatedAt = now
	cp := *best
	return &cp, nil
}

func (r *memJobRepo) SetDocumentMetadata(ctx context.Context, _ repository.Tx, documentID string, pageCount int, language string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[documentID]
	if !ok {
		return domain.ErrNotFound
	}
	if d.PageCount == 0 {
		d.PageCount = pageCount
		d.Language = language
	}
	return nil
}

func (r *memJobRepo) CancelJob(ctx context.Context, _ repository.Tx, jobID, reason string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.Status.Terminal() {
		cp := *job
		return &cp, nil
	}

	now := time.Now()
	for _, sr := range r.stages[jobID] {
		if !sr.Status.Terminal() {
			sr.Status = model.StageSkipped
			sr.FinishedAt = &now
		}
	}
	job.Status = model.JobStatusFailed
	job.Progress = 100
	job.Reason = reason
	job.CompletedAt = &now
	job.UpdatedAt = now
	cp := *job
	return &cp, nil
}

func (r *memJobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for id, job := range r.jobs {
		if !job.Status.Terminal() || job.CompletedAt == nil || !job.CompletedAt.Before(cutoff) {
			continue
		}
		delete(r.docs, job.DocumentID)
		delete(r.stages, id)
		delete(r.jobs, id)
		n++
	}
	return n, nil
}

// --- in-memory webhook repository ---

type memWebhookRepo struct {
	mu     sync.Mutex
	subs   []*model.WebhookSubscription
	events []*model.WebhookEvent
	seq    int64
}

var _ repository.WebhookRepository = (*memWebhookRepo)(nil)

func newMemWebhookRepo() *memWebhookRepo { return &memWebhookRepo{} }

func (r *memWebhookRepo) SaveSubscription(ctx context.Context, _ repository.Tx, sub *model.WebhookSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.subs = append(r.subs, &cp)
	return nil
}

func (r *memWebhookRepo) ListSubscriptions(ctx context.Context, _ repository.Tx, event string) ([]*model.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.WebhookSubscription
	for _, sub := range r.subs {
		if sub.Wants(event) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memWebhookRepo) EnqueueEvent(ctx context.Context, _ repository.Tx, ev *model.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ev.Sequence = r.seq
	ev.CreatedAt = time.Now()
	cp := *ev
	r.events = append(r.events, &cp)
	return nil
}

func (r *memWebhookRepo) ListDeliverable(ctx context.Context, limit int) ([]*model.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var out []*model.WebhookEvent
	for _, ev := range r.events {
		if ev.DeliveredAt != nil || ev.Dropped || ev.NextRunAt.After(now) {
			continue
		}
		cp := *ev
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memWebhookRepo) MarkDelivered(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID == eventID {
			now := time.Now()
			ev.DeliveredAt = &now
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memWebhookRepo) RecordAttempt(ctx context.Context, eventID string, nextRunAt time.Time, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID == eventID {
			ev.Attempts++
			ev.NextRunAt = nextRunAt
			ev.LastError = lastError
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memWebhookRepo) DropEvent(ctx context.Context, eventID string, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID == eventID {
			ev.Attempts++
			ev.Dropped = true
			ev.LastError = lastError
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memWebhookRepo) eventsForJob(jobID string) []*model.WebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.WebhookEvent
	for _, ev := range r.events {
		if ev.JobID == jobID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out
}

// --- in-memory batch repository ---

type memBatchRepo struct {
	mu      sync.Mutex
	batches map[string]*model.BatchJob
	jobs    *memJobRepo
}

var _ repository.BatchRepository = (*memBatchRepo)(nil)

func newMemBatchRepo(jobs *memJobRepo) *memBatchRepo {
	return &memBatchRepo{batches: make(map[string]*model.BatchJob), jobs: jobs}
}

func (r *memBatchRepo) SaveBatch(ctx context.Context, _ repository.Tx, batch *model.BatchJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now()
	}
	cp := *batch
	r.batches[batch.ID] = &cp
	return nil
}

func (r *memBatchRepo) FindBatch(ctx context.Context, _ repository.Tx, batchID string) (*model.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *memBatchRepo) ListMemberJobs(ctx context.Context, _ repository.Tx, batchID string) ([]*model.Job, error) {
	r.jobs.mu.Lock()
	defer r.jobs.mu.Unlock()
	var out []*model.Job
	for _, j := range r.jobs.jobs {
		if j.BatchID == batchID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- in-memory object store ---

type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemStore() *memStore { return &memStore{blobs: make(map[string][]byte)} }

func (s *memStore) Put(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	locator := hex.EncodeToString(sum[:])
	s.mu.Lock()
	s.blobs[locator] = append([]byte(nil), data...)
	s.mu.Unlock()
	return locator, nil
}

func (s *memStore) Get(ctx context.Context, locator string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[locator]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

// --- status cache and wake-up recorders ---

type memCache struct {
	mu            sync.Mutex
	views         map[string]*model.JobStatusView
	invalidations int
}

func newMemCache() *memCache { return &memCache{views: make(map[string]*model.JobStatusView)} }

func (c *memCache) Get(ctx context.Context, jobID string) (*model.JobStatusView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[jobID]
	return v, ok
}

func (c *memCache) Set(ctx context.Context, view *model.JobStatusView) {
	c.mu.Lock()
	c.views[view.JobID] = view
	c.mu.Unlock()
}

func (c *memCache) Invalidate(ctx context.Context, jobID string) {
	c.mu.Lock()
	delete(c.views, jobID)
	c.invalidations++
	c.mu.Unlock()
}

type recorderKicker struct {
	mu    sync.Mutex
	kicks []string
}

func (k *recorderKicker) Kick(class string) {
	k.mu.Lock()
	k.kicks = append(k.kicks, class)
	k.mu.Unlock()
}

type recorderNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *recorderNotifier) Kick() {
	n.mu.Lock()
	n.count++
	n.mu.Unlock()
}
