package jobs

import (
	"fmt"
	"log/slog"
	"os"
)

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Debug(args ...any) { a.logger.Debug(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (a slogAdapter) Info(args ...any)  { a.logger.Info(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (a slogAdapter) Warn(args ...any)  { a.logger.Warn(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (a slogAdapter) Error(args ...any) { a.logger.Error(fmt.Sprint(args...), slog.String("component", "asynq")) }

// Fatal logs at error level and exits, as asynq expects.
func (a slogAdapter) Fatal(args ...any) {
	a.logger.Error(fmt.Sprint(args...), slog.String("component", "asynq"))
	os.Exit(1)
}
