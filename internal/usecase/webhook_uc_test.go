package usecase

import (
	"context"
	"errors"
	"testing"

	"intellidoc-pipeline/internal/domain"
	"intellidoc-pipeline/internal/domain/model"
)

func TestWebhookUC_Subscribe(t *testing.T) {
	t.Parallel()
	hooks := newMemWebhookRepo()
	uc := NewWebhookUC(hooks, testLogger())
	ctx := context.Background()

	sub, err := uc.Subscribe(ctx, "https://example.com/hook", []string{model.EventJobCompleted}, "s3cret")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.ID == "" || len(sub.Events) != 1 {
		t.Fatalf("unexpected subscription: %+v", sub)
	}

	matched, err := hooks.ListSubscriptions(ctx, nil, model.EventJobCompleted)
	if err != nil || len(matched) != 1 {
		t.Fatalf("subscription not stored: %v %d", err, len(matched))
	}
	matched, _ = hooks.ListSubscriptions(ctx, nil, model.EventJobFailed)
	if len(matched) != 0 {
		t.Fatal("subscription matched an unselected event")
	}
}

func TestWebhookUC_SubscribeDefaultsToAllEvents(t *testing.T) {
	t.Parallel()
	uc := NewWebhookUC(newMemWebhookRepo(), testLogger())

	sub, err := uc.Subscribe(context.Background(), "https://example.com/hook", nil, "")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if len(sub.Events) != len(model.KnownEvents) {
		t.Fatalf("expected all known events, got %v", sub.Events)
	}
}

func TestWebhookUC_SubscribeValidation(t *testing.T) {
	t.Parallel()
	uc := NewWebhookUC(newMemWebhookRepo(), testLogger())
	ctx := context.Background()

	cases := []struct {
		name   string
		url    string
		events []string
	}{
		{"empty url", "", nil},
		{"not a url", "not-a-url", nil},
		{"unknown event", "https://example.com/hook", []string{"job.exploded"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := uc.Subscribe(ctx, tc.url, tc.events, ""); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}
