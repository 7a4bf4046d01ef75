package analyzer

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/osvaldoandrade/gdtrelay/internal/metrics"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrBusy is returned when every slot is taken and the wait queue is full.
	ErrBusy    = errors.New("analyzer busy")
	ErrTimeout = errors.New("analyzer timed out")
)

// Environment variables handed to every analyzer process.
const (
	EnvRequestID   = "GDT_REQUEST_ID"
	EnvOutputDir   = "GDT_OUTPUT_DIR"
	EnvSummaryPath = "GDT_SUMMARY_PATH"
)

type Options struct {
	Command       string
	Args          []string
	WorkDir       string
	Timeout       time.Duration
	MaxConcurrent int
	QueueSize     int
}

// Invocation scopes one analyzer run to a request.
type Invocation struct {
	ID          string
	InputPath   string
	OutputDir   string
	SummaryPath string
}

type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

type Invoker struct {
	runner  Runner
	opts    Options
	sem     *semaphore.Weighted
	waiting atomic.Int64
}

func NewInvoker(runner Runner, opts Options) *Invoker {
	if runner == nil {
		runner = ExecRunner{}
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	return &Invoker{
		runner: runner,
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
}

// Invoke runs the analyzer for inv and returns its raw output. Any failure to
// start, a non-zero exit and a timeout are all reported as a non-nil error;
// Result still carries whatever was captured.
func (i *Invoker) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	if err := i.acquire(ctx); err != nil {
		return Result{ExitCode: -1}, err
	}
	defer i.sem.Release(1)
	metrics.AnalyzerInflight.Inc()
	defer metrics.AnalyzerInflight.Dec()

	runCtx := ctx
	if i.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, i.opts.Timeout)
		defer cancel()
	}

	cmd := i.Command(inv)
	start := time.Now()
	stdout, stderr, err := i.runner.Run(runCtx, cmd)
	res := Result{Stdout: stdout, Stderr: stderr, Duration: time.Since(start)}
	if err == nil {
		return res, nil
	}

	res.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return res, fmt.Errorf("%w after %s: %v", ErrTimeout, i.opts.Timeout, err)
	}
	if ctx.Err() != nil {
		return res, fmt.Errorf("analyzer cancelled: %w", ctx.Err())
	}
	return res, fmt.Errorf("analyzer failed: %w", err)
}

func (i *Invoker) acquire(ctx context.Context) error {
	if i.sem.TryAcquire(1) {
		return nil
	}
	if i.waiting.Add(1) > int64(i.opts.QueueSize) {
		i.waiting.Add(-1)
		return ErrBusy
	}
	defer i.waiting.Add(-1)
	if err := i.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for analyzer slot: %w", err)
	}
	return nil
}

// Command builds the process invocation for inv: configured args with
// placeholders expanded, then the input path unless {input} was used.
func (i *Invoker) Command(inv Invocation) Command {
	r := strings.NewReplacer(
		"{input}", inv.InputPath,
		"{output_dir}", inv.OutputDir,
		"{summary_path}", inv.SummaryPath,
		"{request_id}", inv.ID,
	)
	args := make([]string, 0, len(i.opts.Args)+1)
	usesInput := false
	for _, a := range i.opts.Args {
		if strings.Contains(a, "{input}") {
			usesInput = true
		}
		args = append(args, r.Replace(a))
	}
	if !usesInput {
		args = append(args, inv.InputPath)
	}
	return Command{
		Name: i.opts.Command,
		Args: args,
		Dir:  i.opts.WorkDir,
		Env: []string{
			EnvRequestID + "=" + inv.ID,
			EnvOutputDir + "=" + inv.OutputDir,
			EnvSummaryPath + "=" + inv.SummaryPath,
		},
	}
}
