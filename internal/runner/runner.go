// Package runner предоставляет периодический запуск фоновых задач.
package runner

import (
	"context"
	"log/slog"
	"time"
)

// Runner вызывает Tick с заданным интервалом до отмены контекста.
// Ошибки тика логируются и не останавливают цикл.
type Runner struct {
	Tick     func(ctx context.Context) error
	Logger   *slog.Logger
	Name     string
	Interval time.Duration
}

// Run блокирует до отмены контекста. Первый тик выполняется сразу,
// не дожидаясь интервала.
func (r *Runner) Run(ctx context.Context) error {
	r.Logger.Info("Background runner started", "name", r.Name, "interval", r.Interval)

	r.tick(ctx)

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Logger.Info("Background runner stopped", "name", r.Name)
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if err := r.Tick(ctx); err != nil {
		r.Logger.Error("Background tick failed", "name", r.Name, "error", err)
	}
}
