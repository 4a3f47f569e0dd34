package main

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"marcutd/internal/config"
	"marcutd/internal/job"
	"marcutd/internal/supervisor"
	"marcutd/pkg/types"
)

// daemonService glues the supervisor and the job runner behind the control
// API's Service interface.
type daemonService struct {
	sv  *supervisor.Supervisor
	cfg config.Config
	log zerolog.Logger
}

func (d *daemonService) Status() types.StatusResponse { return d.sv.Status() }
func (d *daemonService) Models() []types.ModelInfo    { return d.sv.Models() }
func (d *daemonService) Ready() bool                  { return d.sv.Ready() }

func (d *daemonService) EnsureRunning(ctx context.Context, force bool) error {
	return d.sv.EnsureRunning(ctx, force)
}

func (d *daemonService) EnsureModel(ctx context.Context, modelID string, onProgress func(types.ProgressUpdate)) error {
	return d.sv.EnsureModel(ctx, modelID, onProgress)
}

func (d *daemonService) PullModel(ctx context.Context, modelID string, onProgress func(types.ProgressUpdate)) error {
	return d.sv.PullModel(ctx, modelID, onProgress)
}

// RunJob makes sure the server and model are up, then runs one redaction
// worker against them, forwarding its progress protocol to the caller.
func (d *daemonService) RunJob(ctx context.Context, req types.JobRequest, onProgress func(types.ProgressUpdate)) error {
	if err := d.sv.EnsureModel(ctx, req.Model, onProgress); err != nil {
		return err
	}
	host := strings.TrimPrefix(d.sv.BaseURL(), "http://")
	runner := job.NewRunner(d.cfg.WorkerPath, host, d.log)
	return runner.Run(ctx, job.NewJobID(), job.Spec{
		Input:  req.Input,
		Output: req.Output,
		Report: req.Report,
		Mode:   req.Mode,
		Model:  req.Model,
	}, onProgress)
}
