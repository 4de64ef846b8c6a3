package orchestrator

/*
ParserSupervisor spawns and restarts cmd/parserd subprocesses.

Each PC process is modeled as an independent OS process (spec §4.6) so it
never competes with FE for CPU inside the orchestrator's own goroutines.
An unexpected exit is restarted with exponential backoff; FQ is durable in
KVC, so a crash between BlockingPop calls loses nothing in flight (spec
§7's "Parser process crash" row).
*/

import (
	"context"
	"math/rand"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rohmanhakim/polite-crawler/internal/metadata"
	"github.com/rohmanhakim/polite-crawler/pkg/timeutil"
)

// ParserSupervisorParams constructs a ParserSupervisor.
type ParserSupervisorParams struct {
	// Command is the cmd/parserd binary to invoke (e.g. the build output
	// path, or "parserd" if it is on PATH).
	Command string
	// Args are passed to every invocation verbatim (e.g. --redis-host,
	// --data-dir, flags parserd needs to build its own KVC/FM/SS handles).
	Args []string
	// Count is how many independent processes to supervise.
	Count int
	// Backoff bounds the restart delay after an unexpected exit.
	Backoff timeutil.BackoffParam

	MetadataSink metadata.MetadataSink
}

// ParserSupervisor supervises Count independent parserd subprocesses,
// restarting each on unexpected exit with exponential backoff.
type ParserSupervisor struct {
	command      string
	args         []string
	count        int
	backoff      timeutil.BackoffParam
	metadataSink metadata.MetadataSink
}

// NewParserSupervisor constructs a ParserSupervisor from p.
func NewParserSupervisor(p ParserSupervisorParams) *ParserSupervisor {
	count := p.Count
	if count <= 0 {
		count = 1
	}
	return &ParserSupervisor{
		command:      p.Command,
		args:         p.Args,
		count:        count,
		backoff:      p.Backoff,
		metadataSink: p.MetadataSink,
	}
}

// Run spawns s.count supervised processes and blocks until ctx is
// cancelled and every one of them has exited.
func (s *ParserSupervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(s.count)
	for i := 0; i < s.count; i++ {
		go func(idx int) {
			defer wg.Done()
			s.superviseOne(ctx, idx)
		}(i)
	}
	wg.Wait()
}

// superviseOne runs the command in a loop, restarting it on every
// unexpected exit (anything other than ctx cancellation) with growing
// backoff, and resetting the backoff counter once a process has stayed up
// long enough to be considered healthy again.
func (s *ParserSupervisor) superviseOne(ctx context.Context, idx int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(idx)))
	restartCount := 0

	for {
		if ctx.Err() != nil {
			return
		}

		cmd := exec.CommandContext(ctx, s.command, s.args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = append(os.Environ(), parserIndexEnv(idx))

		started := time.Now()
		err := cmd.Run()

		if ctx.Err() != nil {
			return
		}

		if err == nil {
			// A clean exit with no cancellation is still unexpected: a
			// long-running consumer should never return on its own.
			s.recordExit(idx, "parser process exited cleanly but unexpectedly")
		} else {
			s.recordExit(idx, err.Error())
		}

		// A process that ran for a while before dying is healthy enough
		// to reset the backoff; one that dies immediately keeps climbing.
		if time.Since(started) > 30*time.Second {
			restartCount = 0
		}
		restartCount++

		delay := timeutil.ExponentialBackoffDelay(restartCount, 500*time.Millisecond, *rng, s.backoff)
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

func (s *ParserSupervisor) recordExit(idx int, message string) {
	if s.metadataSink == nil {
		return
	}
	s.metadataSink.RecordError(
		time.Now(),
		"orchestrator",
		"ParserSupervisor.superviseOne",
		metadata.CauseUnknown,
		message,
		[]metadata.Attribute{metadata.NewAttr(metadata.AttrField, parserIndexEnv(idx))},
	)
}

func parserIndexEnv(idx int) string {
	return "PARSERD_INDEX=" + strconv.Itoa(idx)
}
