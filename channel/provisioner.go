package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"engageflow/logger"
)

// Provisioner returns the single conversation shared by a client and a
// freelancer on a project, creating it on first use.
type Provisioner interface {
	GetOrCreate(ctx context.Context, tx pgx.Tx, projectID, clientID, freelancerID string) (string, error)
}

type PGProvisioner struct {
	idGenerator func() string
}

func NewPGProvisioner() *PGProvisioner {
	return &PGProvisioner{idGenerator: func() string { return uuid.NewString() }}
}

func (p *PGProvisioner) GetOrCreate(ctx context.Context, tx pgx.Tx, projectID, clientID, freelancerID string) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
        INSERT INTO conversations (id, project_id, client_id, freelancer_id)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (project_id, client_id, freelancer_id)
        DO UPDATE SET updated_at = now()
        RETURNING id::text`, p.idGenerator(), projectID, clientID, freelancerID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("channel: get or create: %w", err)
	}
	return id, nil
}

// Exists reports whether a conversation row is visible to tx.
func (p *PGProvisioner) Exists(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	var found string
	err := tx.QueryRow(ctx, `SELECT id::text FROM conversations WHERE id=$1`, id).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("channel: lookup: %w", err)
	}
	return true, nil
}

type Store interface {
	Provisioner
	Exists(ctx context.Context, tx pgx.Tx, id string) (bool, error)
}

// CachedProvisioner keeps channel ids in Redis so repeat provisioning is a
// primary-key read instead of an upsert. A cached id is confirmed against the
// database before use because the transaction that created it may have
// rolled back.
type CachedProvisioner struct {
	store Store
	rdb   redis.Cmdable
	ttl   time.Duration
	log   logger.Logger
}

func NewCachedProvisioner(store Store, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *CachedProvisioner {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &CachedProvisioner{store: store, rdb: rdb, ttl: ttl, log: log}
}

func cacheKey(projectID, clientID, freelancerID string) string {
	return fmt.Sprintf("engage:channel:%s:%s:%s", projectID, clientID, freelancerID)
}

func (c *CachedProvisioner) GetOrCreate(ctx context.Context, tx pgx.Tx, projectID, clientID, freelancerID string) (string, error) {
	key := cacheKey(projectID, clientID, freelancerID)
	fields := map[string]interface{}{"project_id": projectID, "client_id": clientID, "freelancer_id": freelancerID}

	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		ok, err := c.store.Exists(ctx, tx, cached)
		if err != nil {
			return "", err
		}
		if ok {
			return cached, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.WithError(err).Warn("channel cache read failed", fields)
	}

	id, err := c.store.GetOrCreate(ctx, tx, projectID, clientID, freelancerID)
	if err != nil {
		return "", err
	}
	if err := c.rdb.Set(ctx, key, id, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("channel cache write failed", fields)
	}
	return id, nil
}
