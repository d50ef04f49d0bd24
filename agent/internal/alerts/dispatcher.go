package alerts

import (
	"context"
	"time"

	"curve-watch/agent/internal/models"
	"curve-watch/agent/internal/observability"
	"curve-watch/shared/logger"

	"go.uber.org/zap"
)

// Notifier delivers one text message to a chat.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Recorder persists dispatched alerts. Optional.
type Recorder interface {
	RecordAlert(ctx context.Context, rec models.AlertRecord) error
}

type DispatcherOptions struct {
	Notifier Notifier
	Recorder Recorder
	Logger   *logger.Logger
	Metrics  *observability.Metrics
	Now      func() time.Time
}

// Dispatcher sends one notification per crossing. Delivery is at most once: failures are logged, never retried.
type Dispatcher struct {
	notifier Notifier
	recorder Recorder
	logger   *logger.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		notifier: opts.Notifier,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	if d.logger == nil {
		d.logger = logger.NewNop()
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Dispatch delivers every crossing to user and returns how many were sent.
// Errors stay local to this call so other recipients are unaffected.
func (d *Dispatcher) Dispatch(ctx context.Context, user models.UserID, m models.TokenMetrics, crossings []Crossing) int {
	sent := 0
	for _, c := range crossings {
		if ctx.Err() != nil {
			return sent
		}

		err := d.send(ctx, user, m, c)
		d.metrics.RecordAlert(c.Set, err)
		if err != nil {
			d.logger.Error("Failed to deliver alert",
				zap.Int64("userId", int64(user)),
				zap.String("tokenAddress", m.TokenID.String()),
				zap.String("key", c.Key),
				zap.Error(err),
			)
		} else {
			sent++
			d.logger.Info("Alert delivered",
				zap.Int64("userId", int64(user)),
				zap.String("tokenAddress", m.TokenID.String()),
				zap.String("key", c.Key),
				zap.Float64("value", c.Value),
			)
		}
		d.record(ctx, user, m, c, err)
	}
	return sent
}

func (d *Dispatcher) send(ctx context.Context, user models.UserID, m models.TokenMetrics, c Crossing) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	if d.notifier == nil {
		return errNoNotifier
	}
	return d.notifier.Send(ctx, int64(user), FormatAlert(m, c, d.now()))
}

func (d *Dispatcher) record(ctx context.Context, user models.UserID, m models.TokenMetrics, c Crossing, sendErr error) {
	if d.recorder == nil {
		return
	}
	rec := models.AlertRecord{
		TokenID:      m.TokenID.String(),
		UserID:       int64(user),
		ThresholdKey: c.Key,
		Value:        c.Value,
		Delivered:    sendErr == nil,
	}
	if sendErr != nil {
		rec.Error = sendErr.Error()
	}
	if err := d.recorder.RecordAlert(ctx, rec); err != nil {
		d.logger.Warn("Failed to record alert", zap.String("key", c.Key), zap.Error(err))
	}
}
