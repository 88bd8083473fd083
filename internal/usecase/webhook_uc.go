package usecase

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"intellidoc-pipeline/internal/domain"
	"intellidoc-pipeline/internal/domain/model"
	"intellidoc-pipeline/internal/domain/ports/repository"
)

type WebhookUC interface {
	// Subscribe registers a callback URL. An empty event list selects every
	// known event.
	Subscribe(ctx context.Context, url string, events []string, secret string) (*model.WebhookSubscription, error)
}

var _ WebhookUC = (*webhookUC)(nil)

type webhookUC struct {
	hooks    repository.WebhookRepository
	validate *validator.Validate
	log      *zerolog.Logger
}

func NewWebhookUC(hooks repository.WebhookRepository, logger *zerolog.Logger) *webhookUC {
	l := logger.With().Str("component", "webhook_uc").Logger()
	return &webhookUC{hooks: hooks, validate: validator.New(), log: &l}
}

func (u *webhookUC) Subscribe(ctx context.Context, url string, events []string, secret string) (*model.WebhookSubscription, error) {
	if err := u.validate.Var(url, "required,http_url"); err != nil {
		return nil, fmt.Errorf("%w: callback url", domain.ErrInvalidArgument)
	}
	if len(events) == 0 {
		events = append([]string(nil), model.KnownEvents...)
	}
	for _, ev := range events {
		known := false
		for _, k := range model.KnownEvents {
			if ev == k {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("%w: unknown event %q", domain.ErrInvalidArgument, ev)
		}
	}

	sub := &model.WebhookSubscription{
		ID:     uuid.NewString(),
		URL:    url,
		Events: events,
		Secret: secret,
	}
	if err := u.hooks.SaveSubscription(ctx, repository.NoTX, sub); err != nil {
		return nil, err
	}
	u.log.Info().Str("subscription_id", sub.ID).Strs("events", events).Msg("webhook subscription created")
	return sub, nil
}
