package closure

import (
	"context"

	"github.com/authrim-io/authrim/internal/authz/model"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RebuildJob names one (tenant, objectType, relation) closure to keep
// fresh and the function that loads its current seed tuples.
type RebuildJob struct {
	Tenant           string
	ObjectType       string
	Relation         string
	TuplesetRelation string
	MaxDepth         int
	LoadSeeds        func(ctx context.Context) ([]model.RelationshipTuple, error)
}

// Scheduler periodically rebuilds registered closures on a cron schedule,
// following the same robfig/cron + zap wiring as the control plane's job
// scheduler, scaled down to this package's single responsibility.
type Scheduler struct {
	store  *Store
	cron   *cron.Cron
	logger *zap.Logger
	jobs   []RebuildJob
}

// NewScheduler creates a closure-rebuild scheduler.
func NewScheduler(store *Store, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{store: store, cron: cron.New(), logger: logger}
}

// Register adds a closure to the rebuild rotation.
func (s *Scheduler) Register(job RebuildJob) {
	s.jobs = append(s.jobs, job)
}

// Start schedules all registered jobs on spec, a standard five-field cron
// expression (e.g. "*/5 * * * *"), and begins running them in the
// background. Call Stop to halt.
func (s *Scheduler) Start(spec string) error {
	for _, job := range s.jobs {
		job := job
		if _, err := s.cron.AddFunc(spec, func() { s.runOne(job) }); err != nil {
			return err
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for in-flight rebuilds to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runOne(job RebuildJob) {
	ctx := context.Background()
	seeds, err := job.LoadSeeds(ctx)
	if err != nil {
		s.logger.Warn("closure rebuild: load seeds failed",
			zap.String("tenant", job.Tenant), zap.String("object_type", job.ObjectType),
			zap.String("relation", job.Relation), zap.Error(err))
		return
	}
	if err := s.store.Rebuild(ctx, job.Tenant, job.ObjectType, job.Relation, job.TuplesetRelation, seeds, job.MaxDepth); err != nil {
		s.logger.Warn("closure rebuild failed",
			zap.String("tenant", job.Tenant), zap.String("object_type", job.ObjectType),
			zap.String("relation", job.Relation), zap.Error(err))
	}
}
