package pull

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"marcutd/internal/store"
	"marcutd/pkg/types"
)

const (
	maxAttempts   = 3
	retryDelay    = 1500 * time.Millisecond
	maxRetryDelay = 6 * time.Second

	// Headroom below the manifest size is required before starting a pull;
	// used when the manifest itself is not resolvable yet.
	defaultSpaceNeed = 8 << 30
)

// ProgressFunc receives monotonic non-decreasing progress in [0,100].
type ProgressFunc func(types.ProgressUpdate)

// Puller downloads models through the server API with CLI fallback and
// verifies results against the on-disk store before reporting success.
type Puller struct {
	client *Client
	store  *store.Store
	cli    CLIRunner
	log    zerolog.Logger

	// test seams
	sleep    func(time.Duration)
	diskFree func(string) int64
}

// New returns a Puller bound to one server client and one model store.
// cli may be nil when no CLI fallback binary is available.
func New(client *Client, st *store.Store, cli CLIRunner, log zerolog.Logger) *Puller {
	return &Puller{
		client:   client,
		store:    st,
		cli:      cli,
		log:      log.With().Str("component", "pull").Logger(),
		sleep:    time.Sleep,
		diskFree: freeDiskBytes,
	}
}

// DownloadModel pulls modelID until it is independently verifiable on disk.
// Progress callbacks are monotonic, end at exactly 100 on success, and
// failures carry a human-readable, transport-detail-free message.
func (p *Puller) DownloadModel(ctx context.Context, modelID string, onProgress ProgressFunc) error {
	report := func(u types.ProgressUpdate) {
		if onProgress != nil {
			onProgress(u)
		}
	}

	if !p.client.Reachable(ctx) {
		return newError(CategoryNetwork, "the model service is not running; cannot download "+modelID)
	}
	if err := p.preflightSpace(modelID); err != nil {
		return err
	}

	session := NewSession()
	var last *Error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			// Lightweight liveness check only; no forced restart between
			// attempts.
			if !p.client.Reachable(ctx) {
				p.log.Warn().Int("attempt", attempt).Msg("service unreachable before retry")
			}
		}
		err := p.attemptHTTP(ctx, modelID, session, report)
		if err == nil {
			return p.confirmOnDisk(modelID, report)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cat := classify(err.Error())
		last = newError(cat, userMessage(cat, modelID))
		p.log.Warn().Int("attempt", attempt).Str("category", cat.String()).Err(err).Msg("pull attempt failed")
		if !cat.Retryable() {
			return last
		}
		if attempt < maxAttempts {
			d := time.Duration(attempt) * retryDelay
			if d > maxRetryDelay {
				d = maxRetryDelay
			}
			p.sleep(d)
		}
	}

	// HTTP retries exhausted on a retryable failure: alternate transport.
	if last != nil && last.Category.Retryable() && p.cli != nil {
		p.log.Info().Str("model", modelID).Msg("falling back to CLI pull")
		if err := p.attemptCLI(ctx, modelID, session, report); err == nil {
			return p.confirmOnDisk(modelID, report)
		} else if ctx.Err() != nil {
			return ctx.Err()
		} else {
			cat := classify(err.Error())
			last = newError(cat, userMessage(cat, modelID))
		}
	}
	if last == nil {
		last = newError(CategoryUnknown, userMessage(CategoryUnknown, modelID))
	}
	return last
}

// attemptHTTP runs one streaming pull over the HTTP API. A nil return means
// the attempt is a candidate for success; confirmOnDisk decides the rest.
func (p *Puller) attemptHTTP(ctx context.Context, modelID string, session *Session, report ProgressFunc) error {
	streamErr := p.client.Pull(ctx, modelID, func(ev Event) error {
		if ev.Error != "" {
			return errors.New(ev.Error)
		}
		if ev.Status == "error" {
			return errors.New("pull reported an error")
		}
		progress, success := session.Observe(ev)
		report(types.ProgressUpdate{Phase: ev.Status, Overall: progress})
		if success {
			return errSuccess
		}
		return nil
	})
	if errors.Is(streamErr, errSuccess) {
		return nil
	}
	// The stream can close after the payload was fully written; check the
	// store before treating the failure as real.
	if p.store.Verified(modelID) {
		return nil
	}
	if err := p.store.Promote(modelID); err == nil {
		return nil
	}
	if streamErr == nil {
		return errors.New("pull stream ended unexpectedly before completion")
	}
	return streamErr
}

// errSuccess aborts the pull stream once a terminal event arrives.
var errSuccess = errors.New("pull complete")

// confirmOnDisk requires the model to be verifiable in the store before the
// caller sees success; a transport-level "success" is never trusted alone.
func (p *Puller) confirmOnDisk(modelID string, report ProgressFunc) error {
	if err := p.store.Promote(modelID); err != nil {
		p.log.Error().Err(err).Str("model", modelID).Msg("model not verifiable after pull")
		return newError(CategoryUnknown, "download of "+modelID+" finished but the model failed verification")
	}
	report(types.ProgressUpdate{Phase: "success", Overall: 100})
	p.log.Info().Str("model", modelID).Msg("model downloaded and verified")
	return nil
}

// preflightSpace refuses to start a pull that obviously cannot fit.
func (p *Puller) preflightSpace(modelID string) error {
	need := int64(defaultSpaceNeed)
	if m, err := p.store.ResolveManifest(modelID); err == nil && m.ExpectedSize > 0 {
		// Blob plus promoted copy worst case.
		need = m.ExpectedSize * 2
	}
	free := p.diskFree(p.store.Root())
	if free >= 0 && free < need {
		return newError(CategoryNoSpace, fmt.Sprintf(
			"not enough disk space to download %s: %.1f GB free, %.1f GB needed",
			modelID, float64(free)/(1<<30), float64(need)/(1<<30)))
	}
	return nil
}
