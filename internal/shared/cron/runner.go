// Package cronrunner agenda jobs periódicos (ex.: reaper de apostas expiradas) sobre robfig/cron.
package cronrunner

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Runner struct {
	cron    *cron.Cron
	log     *zap.Logger
	baseCtx context.Context
}

// New cria um runner com suporte a segundos na expressão ("*/30 * * * * *").
// Jobs recebem baseCtx; cancelar o contexto sinaliza os jobs em execução.
func New(log *zap.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log:     log,
		baseCtx: baseCtx,
	}
}

// Add registra um job nomeado; execuções sobrepostas do mesmo job são puladas.
func (r *Runner) Add(name, spec string, job func(context.Context) error) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() {
		if err := job(r.baseCtx); err != nil {
			r.log.Warn("cron job failed", zap.String("job", name), zap.Error(err))
		}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return id, nil
}

func (r *Runner) Start() {
	r.log.Info("cron started", zap.Int("jobs", len(r.cron.Entries())))
	r.cron.Start()
}

// Stop aguarda os jobs em andamento terminarem.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.log.Info("cron stopped")
}
