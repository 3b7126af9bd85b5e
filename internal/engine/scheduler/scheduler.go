// Package scheduler runs the stage tasks of a build graph in dependency order.
package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/zerr"
)

// TaskStatus represents the status of a task.
type TaskStatus string

const (
	// StatusPending indicates the task is waiting to be executed.
	StatusPending TaskStatus = "Pending"
	// StatusRunning indicates the task is currently executing.
	StatusRunning TaskStatus = "Running"
	// StatusCached indicates the task's recorded outputs were reused.
	StatusCached TaskStatus = "Cached"
	// StatusCompleted indicates the task has finished successfully.
	StatusCompleted TaskStatus = "Completed"
	// StatusFailed indicates the task execution failed.
	StatusFailed TaskStatus = "Failed"
)

// RunOptions controls one scheduler run.
type RunOptions struct {
	// Variant keys the recorded build info.
	Variant string
	// Targets limits the run to the named tasks and their dependencies.
	// An empty list runs the whole graph.
	Targets []string
	// Parallelism bounds the number of concurrently running tasks.
	Parallelism int
	// NoCache forces every task to run.
	NoCache bool
}

// Scheduler manages the execution of tasks in the dependency graph.
type Scheduler struct {
	store     ports.BuildInfoStore
	hasher    ports.Hasher
	resolver  ports.InputResolver
	telemetry ports.Telemetry

	mu         sync.RWMutex
	taskStatus map[domain.InternedString]TaskStatus
}

// NewScheduler creates a new Scheduler with the given dependencies.
func NewScheduler(
	store ports.BuildInfoStore,
	hasher ports.Hasher,
	resolver ports.InputResolver,
	telemetry ports.Telemetry,
) *Scheduler {
	return &Scheduler{
		store:      store,
		hasher:     hasher,
		resolver:   resolver,
		telemetry:  telemetry,
		taskStatus: make(map[domain.InternedString]TaskStatus),
	}
}

func (s *Scheduler) initTaskStatuses(tasks []domain.InternedString) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range tasks {
		s.taskStatus[task] = StatusPending
	}
}

func (s *Scheduler) updateStatus(name domain.InternedString, status TaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskStatus[name] = status
}

// Run executes the tasks of graph with runner. After the first failure no
// further task is started; tasks already running are allowed to finish.
// Failures are returned joined, each annotated with its task name.
func (s *Scheduler) Run(ctx context.Context, graph *domain.Graph, runner ports.StageRunner, opts RunOptions) error {
	if err := graph.Validate(); err != nil {
		return err
	}

	state, err := s.newRunState(ctx, graph, runner, opts)
	if err != nil {
		return err
	}

	s.initTaskStatuses(state.allTasks)

	return state.runExecutionLoop()
}

type result struct {
	task domain.InternedString
	err  error
}

type schedulerRunState struct {
	graph     *domain.Graph
	runner    ports.StageRunner
	inDegree  map[domain.InternedString]int
	tasks     map[domain.InternedString]domain.Task
	ready     []domain.InternedString
	active    int
	resultsCh chan result
	errs      error
	ctx       context.Context
	opts      RunOptions
	s         *Scheduler
	allTasks  []domain.InternedString
}

func (s *Scheduler) newRunState(
	ctx context.Context,
	graph *domain.Graph,
	runner ports.StageRunner,
	opts RunOptions,
) (*schedulerRunState, error) {
	tasksToRun, allTasks, err := s.resolveTasksToRun(graph, opts.Targets)
	if err != nil {
		return nil, err
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}

	inDegree := make(map[domain.InternedString]int, len(tasksToRun))
	tasks := make(map[domain.InternedString]domain.Task, len(tasksToRun))

	for name := range tasksToRun {
		task, _ := graph.GetTask(name)
		tasks[name] = task

		degree := 0
		for _, dep := range task.Dependencies {
			if tasksToRun[dep] {
				degree++
			}
		}
		inDegree[name] = degree
	}

	// Seed the ready queue in execution order so runs are reproducible.
	var ready []domain.InternedString
	for _, name := range allTasks {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	return &schedulerRunState{
		graph:     graph,
		runner:    runner,
		inDegree:  inDegree,
		tasks:     tasks,
		ready:     ready,
		resultsCh: make(chan result, opts.Parallelism),
		ctx:       ctx,
		opts:      opts,
		s:         s,
		allTasks:  allTasks,
	}, nil
}

func (state *schedulerRunState) runExecutionLoop() error {
	for !state.isDone() {
		state.schedule()

		if state.isDone() {
			break
		}

		if state.ctx.Err() != nil && state.active == 0 {
			return errors.Join(state.errs, state.ctx.Err())
		}

		select {
		case res := <-state.resultsCh:
			state.handleResult(res)
		case <-state.ctx.Done():
		}
	}

	if state.ctx.Err() != nil {
		state.errs = errors.Join(state.errs, state.ctx.Err())
	}

	return state.errs
}

func (s *Scheduler) resolveTasksToRun(
	graph *domain.Graph,
	targetNames []string,
) (map[domain.InternedString]bool, []domain.InternedString, error) {
	tasksToRun := make(map[domain.InternedString]bool)

	if len(targetNames) == 0 {
		for task := range graph.Walk() {
			tasksToRun[task.Name] = true
		}
	} else {
		targets := make([]domain.InternedString, 0, len(targetNames))
		for _, nameStr := range targetNames {
			name := domain.NewInternedString(nameStr)
			if _, ok := graph.GetTask(name); !ok {
				return nil, nil, zerr.With(zerr.Wrap(domain.ErrTaskNotFound, nameStr), "task", nameStr)
			}
			targets = append(targets, name)
		}
		collectDependencies(graph, targets, tasksToRun)
	}

	allTasks := make([]domain.InternedString, 0, len(tasksToRun))
	for task := range graph.Walk() {
		if tasksToRun[task.Name] {
			allTasks = append(allTasks, task.Name)
		}
	}
	return tasksToRun, allTasks, nil
}

func collectDependencies(graph *domain.Graph, targets []domain.InternedString, into map[domain.InternedString]bool) {
	queue := slices.Clone(targets)
	for _, t := range targets {
		into[t] = true
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		task, _ := graph.GetTask(current)
		for _, dep := range task.Dependencies {
			if !into[dep] {
				into[dep] = true
				queue = append(queue, dep)
			}
		}
	}
}

func (state *schedulerRunState) isDone() bool {
	return state.active == 0 && (len(state.ready) == 0 || state.errs != nil)
}

func (state *schedulerRunState) schedule() {
	for len(state.ready) > 0 &&
		state.active < state.opts.Parallelism &&
		state.errs == nil &&
		state.ctx.Err() == nil {
		taskName := state.ready[0]
		state.ready = state.ready[1:]

		state.active++
		state.s.updateStatus(taskName, StatusRunning)

		t := state.tasks[taskName]
		go state.executeTask(&t)
	}
}

func (state *schedulerRunState) executeTask(t *domain.Task) {
	ctx, vertex := state.s.telemetry.Record(state.ctx, state.opts.Variant+" "+t.Name.String())

	cached, err := state.runTask(ctx, t, vertex)
	switch {
	case err != nil:
		vertex.Complete(err)
	case cached:
		vertex.Cached()
		vertex.Complete(nil)
		state.s.updateStatus(t.Name, StatusCached)
	default:
		vertex.Complete(nil)
	}

	state.resultsCh <- result{task: t.Name, err: err}
}

// runTask runs t unless its recorded fingerprints show it is up to date.
// It reports whether the recorded outputs were reused.
func (state *schedulerRunState) runTask(ctx context.Context, t *domain.Task, vertex ports.Vertex) (bool, error) {
	root := state.graph.Root()

	var hash string
	if t.Cacheable {
		var (
			hit bool
			err error
		)
		hit, hash, err = state.s.checkTaskCache(t, root, state.opts)
		if err != nil {
			return false, err
		}
		if hit {
			return true, nil
		}
	}

	if err := validateAndCleanOutputs(t, root); err != nil {
		return false, err
	}

	if err := state.runner.Run(ctx, t, vertex); err != nil {
		return false, err
	}

	if t.Cacheable {
		state.s.record(t, root, hash, state.opts.Variant, vertex)
	}
	return false, nil
}

// record stores the fingerprints of a successful run. A store failure only
// costs a cache miss next time, so it is logged and not returned.
func (s *Scheduler) record(t *domain.Task, root, inputHash, variant string, vertex ports.Vertex) {
	outputHash, err := s.hasher.ComputeOutputHash(internedToStrings(t.Outputs), root)
	if err != nil {
		vertex.Log(domain.LogLevelWarn, "not caching "+t.Name.String()+": "+err.Error())
		return
	}
	err = s.store.Put(root, domain.BuildInfo{
		Variant:    variant,
		TaskName:   t.Name.String(),
		InputHash:  inputHash,
		OutputHash: outputHash,
		Timestamp:  time.Now(),
	})
	if err != nil {
		vertex.Log(domain.LogLevelWarn, "not caching "+t.Name.String()+": "+err.Error())
	}
}

func validateAndCleanOutputs(t *domain.Task, root string) error {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return zerr.Wrap(err, domain.ErrFailedToGetRoot.Error())
	}

	for _, out := range t.Outputs {
		outPath := out.String()
		outAbs := filepath.Clean(filepath.Join(rootAbs, outPath))

		rel, err := filepath.Rel(rootAbs, outAbs)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			return zerr.With(zerr.Wrap(domain.ErrOutputPathOutsideRoot, outPath), "file", outPath)
		}

		if err := os.RemoveAll(outAbs); err != nil {
			return zerr.With(zerr.Wrap(err, domain.ErrFailedToCleanOutput.Error()), "file", outPath)
		}
	}

	return nil
}

func (state *schedulerRunState) handleResult(res result) {
	state.active--

	if res.err != nil {
		enhancedErr := zerr.With(zerr.Wrap(res.err, domain.ErrTaskExecutionFailed.Error()), "task", res.task.String())
		state.errs = errors.Join(state.errs, enhancedErr)
		state.s.updateStatus(res.task, StatusFailed)
		return
	}

	state.s.mu.Lock()
	if state.s.taskStatus[res.task] == StatusRunning {
		state.s.taskStatus[res.task] = StatusCompleted
	}
	state.s.mu.Unlock()

	for _, dep := range state.graph.Dependents(res.task) {
		if _, ok := state.tasks[dep]; ok {
			state.inDegree[dep]--
			if state.inDegree[dep] == 0 {
				state.ready = append(state.ready, dep)
			}
		}
	}
}

// checkTaskCache reports whether t can be skipped, together with its input hash.
func (s *Scheduler) checkTaskCache(t *domain.Task, root string, opts RunOptions) (bool, string, error) {
	resolvedInputs, err := s.resolver.ResolveInputs(internedToStrings(t.Inputs), root)
	if err != nil {
		return false, "", zerr.Wrap(err, domain.ErrInputResolutionFailed.Error())
	}

	hash, err := s.hasher.ComputeInputHash(t, resolvedInputs)
	if err != nil {
		return false, "", zerr.Wrap(err, domain.ErrInputHashComputationFailed.Error())
	}

	if opts.NoCache {
		return false, hash, nil
	}

	info, err := s.store.Get(root, domain.BuildInfoKey(opts.Variant, t.Name.String()))
	if err != nil {
		return false, hash, zerr.Wrap(err, domain.ErrStoreReadFailed.Error())
	}

	if info == nil || info.InputHash != hash {
		return false, hash, nil
	}

	return s.verifyOutputsMatch(t, info, root), hash, nil
}

// verifyOutputsMatch checks that the outputs on disk are the ones recorded.
func (s *Scheduler) verifyOutputsMatch(t *domain.Task, info *domain.BuildInfo, root string) bool {
	if len(t.Outputs) == 0 {
		return true
	}

	outputHash, err := s.hasher.ComputeOutputHash(internedToStrings(t.Outputs), root)
	if err != nil {
		return false
	}

	return info.OutputHash == outputHash
}

func internedToStrings(values []domain.InternedString) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String()
	}
	return out
}
