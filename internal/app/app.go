// Package app wires the sqlite store, the staging workflow and the batch
// pipeline together for the commands.
package app

import (
	"go.uber.org/zap"

	"reconcile/internal/config"
	"reconcile/internal/pipeline"
	"reconcile/internal/staging"
	"reconcile/internal/storage"
)

type App struct {
	Cfg       config.Config
	Log       *zap.Logger
	DB        *storage.DB
	Staging   *staging.Workflow
	Processor *pipeline.Processor
	Batch     *pipeline.Batch
}

func Open(cfg config.Config, log *zap.Logger) (*App, error) {
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return New(db, cfg, log), nil
}

func New(db *storage.DB, cfg config.Config, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	workflow := staging.NewWorkflow(db, log.Named("staging"))
	proc := pipeline.NewProcessor(pipeline.Stores{
		Rules:   db,
		Catalog: db,
		Rows:    db,
		Runs:    db,
		Stager:  workflow,
	}, cfg, log.Named("pipeline"))
	return &App{
		Cfg:       cfg,
		Log:       log,
		DB:        db,
		Staging:   workflow,
		Processor: proc,
		Batch:     pipeline.NewBatch(proc, cfg.BatchWorkers, log.Named("batch")),
	}
}

func (a *App) Close() error {
	_ = a.Log.Sync()
	return a.DB.Close()
}
