package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gtmq/internal/config"
	"gtmq/internal/repo"
)

const DefaultQueue = "default"

// ResolveQueueAndConfig picks the active queue and ensures its config and
// the calling operator exist in the DB, seeding defaults if missing. An
// override wins; otherwise a single configured queue is used, falling back
// to the default queue name on first run.
func ResolveQueueAndConfig(ctx context.Context, queueOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	name := queueOverride
	if name == "" {
		names, err := r.ListConfigNames(ctx)
		if err != nil {
			return "", nil, err
		}
		switch len(names) {
		case 0:
			name = DefaultQueue
		case 1:
			name = names[0]
		default:
			return "", nil, fmt.Errorf("queue not specified; use --queue")
		}
	}
	cfg, err := r.GetConfig(ctx, name)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(name)
		if err := r.UpsertConfig(ctx, name, cfg); err != nil {
			return "", nil, fmt.Errorf("seed queue config: %w", err)
		}
	}
	if actorID == "" {
		actorID = "local-user"
	}
	role := "operator"
	if cfg.IsAdmin(actorID) {
		role = "admin"
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if err := r.EnsureOperator(ctx, nil, actorID, role, now); err != nil {
		return "", nil, fmt.Errorf("ensure operator: %w", err)
	}
	return name, cfg, nil
}
