package daemon

import (
	"context"
	"log/slog"

	"github.com/solatis/freshkeeper/internal/types"
)

// RunLauncher hands a materialization request to the execution engine and
// returns the id of the launched run. Implementations must be safe for
// concurrent use; the daemon launches requests sequentially today but makes
// no promise.
type RunLauncher interface {
	LaunchRun(ctx context.Context, req types.RunRequest) (types.RunID, error)
}

// LogLauncher assigns run ids and logs the request without executing
// anything. The development and test stand-in for a real execution engine.
type LogLauncher struct {
	logger *slog.Logger
}

// NewLogLauncher builds a logging launcher. A nil logger falls back to the
// default slog logger.
func NewLogLauncher(logger *slog.Logger) *LogLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogLauncher{logger: logger}
}

func (l *LogLauncher) LaunchRun(ctx context.Context, req types.RunRequest) (types.RunID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := types.NewRunID()
	args := []any{"run_id", id, "assets", len(req.AssetKeys)}
	if len(req.AssetKeys) > 0 {
		args = append(args, "asset", req.AssetKeys[0].String())
	}
	if req.PartitionKey != nil {
		args = append(args, "partition", *req.PartitionKey)
	}
	l.logger.Info("run launched", args...)
	return id, nil
}
