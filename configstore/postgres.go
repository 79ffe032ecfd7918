package configstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldsafe/riskreactor/errors"
)

// Postgres is the production Store backed by the configurations table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a pgx pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const configSchema = `
CREATE TABLE IF NOT EXISTS configurations (
	id        uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	name      text NOT NULL,
	tenant_id uuid NULL,
	value     text NOT NULL,
	UNIQUE (name, tenant_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS configurations_default_name
	ON configurations (name) WHERE tenant_id IS NULL;
`

// EnsureSchema creates the configurations table when absent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, configSchema)
	return errors.Wrap(err, "configstore", "EnsureSchema", "create table")
}

// LoadRaw implements Store. One query resolves every requested name with
// the tenant row shadowing the default row.
func (p *Postgres) LoadRaw(ctx context.Context, tenant uuid.UUID, names []string) (map[string]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT ON (name) name, value
		FROM configurations
		WHERE name = ANY($1) AND (tenant_id = $2 OR tenant_id IS NULL)
		ORDER BY name, tenant_id NULLS LAST`,
		names, tenant)
	if err != nil {
		return nil, errors.WrapTransient(err, "configstore", "LoadRaw", "query")
	}
	defer rows.Close()

	out := make(map[string]string, len(names))
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, errors.Wrap(err, "configstore", "LoadRaw", "scan")
		}
		out[name] = value
	}
	return out, errors.WrapTransient(rows.Err(), "configstore", "LoadRaw", "iterate")
}

// StoreRaw implements Store via upsert on (name, tenant_id). Postgres
// treats NULLs as distinct in unique constraints, so the default row
// takes the partial-index path.
func (p *Postgres) StoreRaw(ctx context.Context, tenant *uuid.UUID, name, value string) error {
	var err error
	if tenant == nil {
		_, err = p.pool.Exec(ctx, `
			INSERT INTO configurations (name, tenant_id, value) VALUES ($1, NULL, $2)
			ON CONFLICT (name) WHERE tenant_id IS NULL DO UPDATE SET value = EXCLUDED.value`,
			name, value)
	} else {
		_, err = p.pool.Exec(ctx, `
			INSERT INTO configurations (name, tenant_id, value) VALUES ($1, $2, $3)
			ON CONFLICT (name, tenant_id) DO UPDATE SET value = EXCLUDED.value`,
			name, *tenant, value)
	}
	return errors.WrapTransient(err, "configstore", "StoreRaw", "upsert")
}

var _ Store = (*Postgres)(nil)
