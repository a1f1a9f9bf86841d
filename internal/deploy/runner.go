package deploy

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"lakedeploy/internal/history"
	"lakedeploy/internal/observability"
	"lakedeploy/internal/ui"
	"lakedeploy/pkg/errors"
	"lakedeploy/pkg/models"
)

// Step is one provisioning step
type Step interface {
	Name() string
	Run(ctx context.Context, s *State) error
}

// conditional is implemented by steps that only apply to some deployments
type conditional interface {
	Enabled(s *State) (bool, string)
}

// DefaultSteps returns the deployment steps in execution order
func DefaultSteps() []Step {
	return []Step{
		workspaceStep{},
		adminsStep{},
		foldersStep{},
		lakehousesStep{},
		sampleDataStep{},
		notebooksStep{},
		pipelineStep{},
		reportsStep{},
		environmentStep{},
		dataAgentStep{},
		databricksStep{},
	}
}

// RunnerConfig configures a Runner
type RunnerConfig struct {
	// Steps defaults to DefaultSteps
	Steps   []Step
	History *history.Manager
	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Runner executes deployment steps sequentially and records their outcome
type Runner struct {
	steps   []Step
	history *history.Manager
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// NewRunner creates a runner
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Steps == nil {
		cfg.Steps = DefaultSteps()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.GetDefaultLogger()
	}
	return &Runner{
		steps:   cfg.Steps,
		history: cfg.History,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

// StepNames returns the names of the runner's steps in order
func (r *Runner) StepNames() []string {
	names := make([]string, len(r.steps))
	for i, step := range r.steps {
		names[i] = step.Name()
	}
	return names
}

// RunOptions selects what a run does
type RunOptions struct {
	// Skip names steps that are recorded as skipped
	Skip []string
	// Only restricts the run to the named steps
	Only []string
	// Resume continues a recorded deployment; its completed steps are not run again
	Resume *models.DeploymentRecord
}

// Run executes the steps against st and returns the deployment record.
// The record is returned, and persisted, even when a step fails.
func (r *Runner) Run(ctx context.Context, st *State, opts RunOptions) (*models.DeploymentRecord, error) {
	if err := r.validate(opts); err != nil {
		return nil, err
	}

	rec, err := r.begin(st, opts)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, "deployment",
		attribute.String("deployment.id", rec.ID),
		attribute.String("fabric.workspace", rec.Workspace),
		attribute.Bool("deployment.dry_run", rec.DryRun),
		attribute.Bool("deployment.resumed", opts.Resume != nil),
	)

	log := r.logger.WithFields(map[string]interface{}{
		"deployment_id": rec.ID,
		"workspace":     rec.Workspace,
		"dry_run":       rec.DryRun,
	})
	log.Info("deployment started")

	progress := ui.NewStepProgress(st.Console.Writer(), len(rec.Steps))
	skip := toSet(opts.Skip)

	var runErr error
	for _, step := range r.steps {
		name := step.Name()
		sr := rec.Step(name)
		if sr == nil {
			continue
		}

		if err := ctx.Err(); err != nil {
			runErr = errors.Wrap(err, errors.ErrCodeDeploymentAborted, "Deployment aborted").
				WithContext("step", name)
			break
		}

		if skip[name] {
			r.skip(rec, sr, progress, "skipped")
			continue
		}
		if opts.Resume != nil && sr.State == models.StateCompleted {
			progress.Skip(name, "completed earlier")
			continue
		}
		if c, ok := step.(conditional); ok {
			if enabled, reason := c.Enabled(st); !enabled {
				r.skip(rec, sr, progress, reason)
				continue
			}
		}

		if err := r.runStep(ctx, st, step, sr, progress); err != nil {
			runErr = stepError(rec, name, err)
			break
		}
	}

	state := models.StateCompleted
	if runErr != nil {
		state = models.StateFailed
		rec.ErrorMessage = ui.ErrorText(runErr)
	}
	history.Finish(rec, state, r.now())
	r.save(rec)
	r.metrics.IncDeployment(string(state))

	progress.Finish()
	observability.EndSpan(span, runErr)

	if runErr != nil {
		log.WithField("error", ui.ErrorText(runErr)).Error("deployment failed")
	} else {
		log.Info("deployment completed")
	}
	return rec, runErr
}

func (r *Runner) validate(opts RunOptions) error {
	known := toSet(r.StepNames())
	for _, list := range [][]string{opts.Skip, opts.Only} {
		for _, name := range list {
			if !known[name] {
				return errors.Newf(errors.ErrCodeInvalidInput, "Unknown step '%s'", name).
					WithContext("steps", r.StepNames())
			}
		}
	}
	if opts.Resume != nil && opts.Resume.DryRun {
		return errors.New(errors.ErrCodeInvalidInput, "A dry run cannot be resumed").
			WithContext("deployment_id", opts.Resume.ID)
	}
	return nil
}

// begin creates the deployment record, or reopens the resumed one
func (r *Runner) begin(st *State, opts RunOptions) (*models.DeploymentRecord, error) {
	only := toSet(opts.Only)
	selected := func(name string) bool {
		return len(only) == 0 || only[name]
	}

	if rec := opts.Resume; rec != nil {
		if rec.Workspace != st.Config.Fabric.Workspace {
			return nil, errors.Newf(errors.ErrCodeInvalidInput,
				"Deployment %s targeted workspace '%s', not '%s'", rec.ID, rec.Workspace, st.Config.Fabric.Workspace).
				WithSuggestions("Resume with the configuration the deployment was started with")
		}

		for i, step := range r.steps {
			if rec.Step(step.Name()) == nil && selected(step.Name()) {
				rec.Steps = append(rec.Steps, models.StepRecord{Name: step.Name(), Order: i + 1, State: models.StatePending})
			}
		}
		rec.State = models.StateInProgress
		rec.EndTime = nil
		rec.ErrorMessage = ""

		st.Record = rec
		st.restore(rec)
		r.save(rec)
		return rec, nil
	}

	rec := &models.DeploymentRecord{
		Workspace: st.Config.Fabric.Workspace,
		Capacity:  st.Config.Fabric.Capacity,
		StartTime: r.now(),
		State:     models.StateInProgress,
		DryRun:    st.DryRun,
		Resources: make(map[string]string),
	}
	for i, step := range r.steps {
		if selected(step.Name()) {
			rec.Steps = append(rec.Steps, models.StepRecord{Name: step.Name(), Order: i + 1, State: models.StatePending})
		}
	}

	if r.history != nil {
		if err := r.history.Record(rec); err != nil {
			return nil, err
		}
	} else {
		rec.ID = history.NewID()
	}

	st.Record = rec
	for k, v := range st.values {
		rec.Resources[k] = v
	}
	r.save(rec)
	return rec, nil
}

func (r *Runner) runStep(ctx context.Context, st *State, step Step, sr *models.StepRecord, progress *ui.StepProgress) error {
	name := step.Name()
	start := r.now()
	sr.State = models.StateInProgress
	sr.StartTime = start
	sr.EndTime = nil
	sr.ErrorMessage = ""
	r.save(st.Record)

	log := st.logger(name)
	log.Info("step started")
	progress.Start(name)

	stepCtx, span := observability.StartSpan(ctx, "step."+name, attribute.String("deployment.step", name))
	err := step.Run(stepCtx, st)
	observability.EndSpan(span, err)

	end := r.now()
	elapsed := end.Sub(start)
	sr.EndTime = &end
	sr.Duration = elapsed

	status := models.StateCompleted
	if err != nil {
		status = models.StateFailed
		sr.ErrorMessage = ui.ErrorText(err)
	}
	sr.State = status
	r.metrics.ObserveStep(name, string(status), elapsed)
	r.save(st.Record)
	progress.Done(name, elapsed, err)

	if err != nil {
		log.WithFields(map[string]interface{}{
			"error":      ui.ErrorText(err),
			"error_code": string(errors.GetErrorCode(err)),
			"duration":   elapsed.String(),
		}).Error("step failed")
		return err
	}
	log.WithField("duration", elapsed.String()).Info("step completed")
	return nil
}

func (r *Runner) skip(rec *models.DeploymentRecord, sr *models.StepRecord, progress *ui.StepProgress, reason string) {
	sr.State = models.StateSkipped
	sr.ErrorMessage = ""
	progress.Skip(sr.Name, reason)
	r.metrics.ObserveStep(sr.Name, string(models.StateSkipped), 0)
	r.save(rec)
}

// save persists the record; failing to write history does not fail the deployment
func (r *Runner) save(rec *models.DeploymentRecord) {
	if r.history == nil || rec == nil {
		return
	}
	if err := r.history.Save(rec); err != nil {
		r.logger.WithField("deployment_id", rec.ID).Warnf("failed to save deployment history: %v", err)
	}
}

func stepError(rec *models.DeploymentRecord, name string, err error) error {
	wrapped := errors.Wrap(err, errors.ErrCodeStepFailed, fmt.Sprintf("Step '%s' failed", name)).
		WithContext("step", name).
		WithContext("deployment_id", rec.ID)
	if !rec.DryRun {
		_ = wrapped.WithSuggestions(fmt.Sprintf("Fix the cause and resume with 'lakedeploy deploy --resume %s'", rec.ID))
	}
	return wrapped
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
