// Package keeper runs a periodic distributor that cranks every due payment.
package keeper

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/faktor/internal/domain"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Distributor is the part of the distribution engine the keeper drives.
type Distributor interface {
	Due(ctx context.Context, limit int) ([]domain.Payment, error)
	Distribute(ctx context.Context, addr domain.Address, distributor string) (*domain.TransferLog, error)
}

type Options struct {
	Identity  string
	Schedule  string
	BatchSize int
	Timeout   time.Duration
}

// Result summarizes one sweep.
type Result struct {
	Due       int
	Succeeded int
	Failed    int
	Skipped   int
	Errors    int
}

type Keeper struct {
	dist   Distributor
	locker *Locker
	opts   Options
	cron   *cron.Cron
	log    *zap.Logger
}

func New(dist Distributor, locker *Locker, opts Options, log *zap.Logger) *Keeper {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	log = log.Named("keeper")
	cronLogger := cron.PrintfLogger(zap.NewStdLog(log))
	return &Keeper{
		dist:   dist,
		locker: locker,
		opts:   opts,
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		log:    log,
	}
}

// Start registers the sweep on the configured schedule and starts cron.
func (k *Keeper) Start() error {
	if _, err := k.cron.AddFunc(k.opts.Schedule, k.sweep); err != nil {
		return err
	}
	k.log.Info("scheduled distribution sweep", zap.String("schedule", k.opts.Schedule), zap.String("identity", k.opts.Identity))
	k.cron.Start()
	return nil
}

// Stop stops cron; the returned context is done once a running sweep returns.
func (k *Keeper) Stop() context.Context {
	return k.cron.Stop()
}

func (k *Keeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), k.opts.Timeout)
	defer cancel()

	res, err := k.RunOnce(ctx)
	if err != nil {
		k.log.Error("sweep failed", zap.Error(err))
		return
	}
	if res.Due > 0 {
		k.log.Info("sweep finished",
			zap.Int("due", res.Due),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped),
			zap.Int("errors", res.Errors),
		)
	}
}

// RunOnce distributes every payment that is due now, up to BatchSize.
// Payments another distributor got to first are counted as skipped.
func (k *Keeper) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	due, err := k.dist.Due(ctx, k.opts.BatchSize)
	if err != nil {
		return res, err
	}
	res.Due = len(due)

	for _, p := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		key := slotKey(p.Address, p.NextTransferAt)
		token, ok, err := k.locker.TryLock(ctx, key)
		if err != nil {
			k.log.Warn("slot claim failed", zap.String("payment", p.Address.String()), zap.Error(err))
			res.Errors++
			continue
		}
		if !ok {
			res.Skipped++
			continue
		}

		log, err := k.dist.Distribute(ctx, p.Address, k.opts.Identity)
		if relErr := k.locker.Release(ctx, key, token); relErr != nil {
			k.log.Warn("slot release failed", zap.String("key", key), zap.Error(relErr))
		}

		switch {
		case err == nil && log.Status == domain.TransferStatusSucceeded:
			res.Succeeded++
		case err == nil:
			res.Failed++
		case errors.Is(err, domain.ErrNotDue), errors.Is(err, domain.ErrDuplicateLog):
			res.Skipped++
		default:
			k.log.Warn("distribution error", zap.String("payment", p.Address.String()), zap.Error(err))
			res.Errors++
		}
	}
	return res, nil
}
