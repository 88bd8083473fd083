// Package notify delivers webhook events from the outbox to subscriber
// endpoints. Delivery is at-least-once and completely decoupled from the job
// lifecycle: a dead endpoint can never hold a job hostage.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"intellidoc-pipeline/internal/config"
	"intellidoc-pipeline/internal/domain/model"
	"intellidoc-pipeline/internal/domain/ports/repository"
	"intellidoc-pipeline/internal/infra/metrics"
	"intellidoc-pipeline/internal/usecase"
)

const drainBatchSize = 50

var _ usecase.Notifier = (*Dispatcher)(nil)

type Dispatcher struct {
	hooks repository.WebhookRepository
	cfg   config.WebhookConfig
	httpc *http.Client
	kick  chan struct{}
	log   *zerolog.Logger
}

func NewDispatcher(hooks repository.WebhookRepository, cfg config.WebhookConfig, logger *zerolog.Logger) *Dispatcher {
	l := logger.With().Str("component", "webhook_dispatcher").Logger()
	return &Dispatcher{
		hooks: hooks,
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
		kick:  make(chan struct{}, 1),
		log:   &l,
	}
}

// Kick wakes the dispatcher ahead of the next poll tick.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Start runs the delivery loop until ctx is cancelled. Should be run in a
// goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.log.Info().Msg("webhook dispatcher started")
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("webhook dispatcher stopping")
			return
		case <-ticker.C:
		case <-d.kick:
		}
		d.drain(ctx)
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		events, err := d.hooks.ListDeliverable(ctx, drainBatchSize)
		if err != nil {
			d.log.Error().Err(err).Msg("list deliverable events")
			return
		}
		if len(events) == 0 {
			return
		}
		for _, ev := range events {
			if ctx.Err() != nil {
				return
			}
			d.deliver(ctx, ev)
		}
		if len(events) < drainBatchSize {
			return
		}
	}
}

// deliver attempts one event against every matching subscription. The event
// is marked delivered only when every endpoint accepted it; a partial failure
// retries the whole event, so endpoints must de-duplicate by (job_id,
// sequence).
func (d *Dispatcher) deliver(ctx context.Context, ev *model.WebhookEvent) {
	subs, err := d.hooks.ListSubscriptions(ctx, repository.NoTX, ev.Event)
	if err != nil {
		d.log.Error().Err(err).Str("event_id", ev.ID).Msg("list subscriptions")
		return
	}
	if len(subs) == 0 {
		_ = d.hooks.MarkDelivered(ctx, ev.ID)
		return
	}

	body, err := json.Marshal(struct {
		Event     string          `json:"event"`
		JobID     string          `json:"job_id"`
		Sequence  int64           `json:"sequence"`
		Timestamp time.Time       `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}{Event: ev.Event, JobID: ev.JobID, Sequence: ev.Sequence, Timestamp: time.Now().UTC(), Data: ev.Payload})
	if err != nil {
		d.log.Error().Err(err).Str("event_id", ev.ID).Msg("encode event payload")
		return
	}

	lastErr := ""
	for _, sub := range subs {
		if err := d.post(ctx, sub, ev, body); err != nil {
			lastErr = fmt.Sprintf("%s: %v", sub.URL, err)
		}
	}

	switch {
	case lastErr == "":
		if err := d.hooks.MarkDelivered(ctx, ev.ID); err != nil {
			d.log.Error().Err(err).Str("event_id", ev.ID).Msg("mark delivered")
			return
		}
		metrics.IncWebhookDelivery(ev.Event, "delivered")
		d.log.Info().Str("event_id", ev.ID).Str("job_id", ev.JobID).Int64("sequence", ev.Sequence).Msg("event delivered")

	case ev.Attempts+1 >= d.cfg.MaxAttempts:
		_ = d.hooks.DropEvent(ctx, ev.ID, lastErr)
		metrics.IncWebhookDelivery(ev.Event, "dropped")
		d.log.Warn().Str("event_id", ev.ID).Str("job_id", ev.JobID).Str("last_error", lastErr).
			Int("attempts", ev.Attempts+1).Msg("event dropped after retry budget")

	default:
		next := time.Now().Add(d.backoff(ev.Attempts + 1))
		_ = d.hooks.RecordAttempt(ctx, ev.ID, next, lastErr)
		metrics.IncWebhookDelivery(ev.Event, "retried")
	}
}

func (d *Dispatcher) post(ctx context.Context, sub *model.WebhookSubscription, ev *model.WebhookEvent, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-IntelliDoc-Event", ev.Event)
	req.Header.Set("X-IntelliDoc-Sequence", strconv.FormatInt(ev.Sequence, 10))
	if sub.Secret != "" {
		req.Header.Set("X-IntelliDoc-Signature", Sign(sub.Secret, body))
	}

	resp, err := d.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint http %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.cfg.RetryBase
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}

// Sign computes the hex HMAC-SHA256 of the payload under the subscription
// secret. Receivers verify it before trusting the body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
