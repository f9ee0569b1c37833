package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/hibiken/asynq"
)

// JobsRunner is the queue surface used by the jobs sub-command.
type JobsRunner interface {
	Trigger(ctx context.Context, name, date, actorID string) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
}

// ErrUsage is returned for malformed jobs sub-command invocations.
var ErrUsage = errors.New("usage: barstock jobs trigger [-date yyyy-MM-dd] [-actor id] <shop|onbar|check> | barstock jobs stats")

// RunJobs executes "barstock jobs ..." with args excluding the "jobs" word.
func RunJobs(ctx context.Context, runner JobsRunner, args []string, out io.Writer) error {
	if len(args) == 0 {
		return ErrUsage
	}
	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		date := fs.String("date", "", "business day, defaults to today")
		actor := fs.String("actor", "cli", "staff identifier recorded in the audit log")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		if fs.NArg() != 1 {
			return ErrUsage
		}
		info, err := runner.Trigger(ctx, fs.Arg(0), *date, *actor)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return err
	case "stats":
		stats, err := runner.InspectQueue(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return err
	default:
		return ErrUsage
	}
}
