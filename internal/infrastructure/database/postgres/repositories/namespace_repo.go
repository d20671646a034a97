// Package repositories contains the pgx-backed persistence implementations.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/WAL-Service/internal/domain/namespace"
	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/turtacn/WAL-Service/pkg/errors"
	"github.com/turtacn/WAL-Service/pkg/types/wal"
)

// NamespaceRepo is the PostgreSQL implementation of namespace.Store.
// Policy JSON blobs (retry, shard, target, rate limit, schema) are stored
// as JSONB columns so admin tooling can evolve them without schema churn.
type NamespaceRepo struct {
	pool *pgxpool.Pool
	log  logging.Logger
}

// NewNamespaceRepo constructs a NamespaceRepo over pool.
func NewNamespaceRepo(pool *pgxpool.Pool, log logging.Logger) *NamespaceRepo {
	return &NamespaceRepo{pool: pool, log: log.Named("namespace-repo")}
}

var _ namespace.Store = (*NamespaceRepo)(nil)

const selectColumns = `
	name, enabled, backend, topic_name,
	retry_policy, shard_config, target_config, rate_limit_config, schema_rules,
	max_message_size, max_delay_seconds, created_at, updated_at`

// GetByName returns the namespace named name, or CodeNamespaceNotFound.
func (r *NamespaceRepo) GetByName(ctx context.Context, name string) (*namespace.Namespace, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT`+selectColumns+` FROM namespaces WHERE name = $1`,
		strings.ToLower(name))

	ns, err := scanNamespace(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.NamespaceNotFound(name)
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeDatabaseError, "namespace query failed")
	}
	return ns, nil
}

// List returns all namespaces ordered by name.
func (r *NamespaceRepo) List(ctx context.Context) ([]*namespace.Namespace, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT`+selectColumns+` FROM namespaces ORDER BY name`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeDatabaseError, "namespace list failed")
	}
	defer rows.Close()

	out := make([]*namespace.Namespace, 0)
	for rows.Next() {
		ns, err := scanNamespace(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeDatabaseError, "namespace scan failed")
		}
		out = append(out, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeDatabaseError, "namespace list failed")
	}
	return out, nil
}

// Upsert creates or replaces a namespace record.
func (r *NamespaceRepo) Upsert(ctx context.Context, ns *namespace.Namespace) error {
	if ns == nil || ns.Name == "" {
		return pkgerrors.Validation("namespace name is required")
	}

	retryJSON, err := json.Marshal(ns.RetryPolicy)
	if err != nil {
		return pkgerrors.Validation("retry policy not serialisable").WithCause(err)
	}
	shardJSON, err := json.Marshal(ns.ShardConfig)
	if err != nil {
		return pkgerrors.Validation("shard config not serialisable").WithCause(err)
	}
	targetJSON, err := marshalNullable(ns.TargetConfig)
	if err != nil {
		return pkgerrors.Validation("target config not serialisable").WithCause(err)
	}
	rateJSON, err := marshalNullable(ns.RateLimitConfig)
	if err != nil {
		return pkgerrors.Validation("rate limit config not serialisable").WithCause(err)
	}
	schemaJSON, err := marshalNullable(ns.SchemaRules)
	if err != nil {
		return pkgerrors.Validation("schema rules not serialisable").WithCause(err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO namespaces (
			name, enabled, backend, topic_name,
			retry_policy, shard_config, target_config, rate_limit_config, schema_rules,
			max_message_size, max_delay_seconds, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		ON CONFLICT (name) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			backend = EXCLUDED.backend,
			topic_name = EXCLUDED.topic_name,
			retry_policy = EXCLUDED.retry_policy,
			shard_config = EXCLUDED.shard_config,
			target_config = EXCLUDED.target_config,
			rate_limit_config = EXCLUDED.rate_limit_config,
			schema_rules = EXCLUDED.schema_rules,
			max_message_size = EXCLUDED.max_message_size,
			max_delay_seconds = EXCLUDED.max_delay_seconds,
			updated_at = now()`,
		strings.ToLower(ns.Name), ns.Enabled, string(ns.Backend), ns.TopicName,
		retryJSON, shardJSON, targetJSON, rateJSON, schemaJSON,
		ns.MaxMessageSize, ns.MaxDelaySeconds)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeDatabaseError, "namespace upsert failed")
	}
	return nil
}

// Delete removes a namespace record; deleting an absent name is not an error.
func (r *NamespaceRepo) Delete(ctx context.Context, name string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM namespaces WHERE name = $1`, strings.ToLower(name))
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeDatabaseError, "namespace delete failed")
	}
	return nil
}

func marshalNullable(v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case *namespace.TargetPolicy:
		if x == nil {
			return nil, nil
		}
	case *namespace.RateLimitPolicy:
		if x == nil {
			return nil, nil
		}
	case *namespace.SchemaRules:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// scanNamespace reads one row into a Namespace. Nullable JSONB columns scan
// into byte slices that stay nil when the column is NULL.
func scanNamespace(row pgx.Row) (*namespace.Namespace, error) {
	var (
		ns         namespace.Namespace
		backend    string
		retryJSON  []byte
		shardJSON  []byte
		targetJSON []byte
		rateJSON   []byte
		schemaJSON []byte
		createdAt  time.Time
		updatedAt  time.Time
	)

	if err := row.Scan(
		&ns.Name, &ns.Enabled, &backend, &ns.TopicName,
		&retryJSON, &shardJSON, &targetJSON, &rateJSON, &schemaJSON,
		&ns.MaxMessageSize, &ns.MaxDelaySeconds, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	ns.Backend = wal.ParseBackend(backend)
	ns.CreatedAt = createdAt
	ns.UpdatedAt = updatedAt

	if len(retryJSON) > 0 {
		if err := json.Unmarshal(retryJSON, &ns.RetryPolicy); err != nil {
			return nil, err
		}
	}
	if len(shardJSON) > 0 {
		if err := json.Unmarshal(shardJSON, &ns.ShardConfig); err != nil {
			return nil, err
		}
	}
	if len(targetJSON) > 0 {
		ns.TargetConfig = &namespace.TargetPolicy{}
		if err := json.Unmarshal(targetJSON, ns.TargetConfig); err != nil {
			return nil, err
		}
	}
	if len(rateJSON) > 0 {
		ns.RateLimitConfig = &namespace.RateLimitPolicy{}
		if err := json.Unmarshal(rateJSON, ns.RateLimitConfig); err != nil {
			return nil, err
		}
	}
	if len(schemaJSON) > 0 {
		ns.SchemaRules = &namespace.SchemaRules{}
		if err := json.Unmarshal(schemaJSON, ns.SchemaRules); err != nil {
			return nil, err
		}
	}

	return &ns, nil
}
