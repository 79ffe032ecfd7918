package metricstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldsafe/riskreactor/errors"
	"github.com/fieldsafe/riskreactor/riskmodel"
)

// Postgres is the production Store. Each metric type owns a table named
// by its storage schema with its key columns, calculated_at, value and
// the opaque inputs/params payloads; the primary key on (key columns,
// calculated_at) makes Store naturally idempotent via ON CONFLICT DO
// NOTHING.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a pgx pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func keyColumns(m riskmodel.MetricType) []string {
	fields := m.KeyFields()
	var cols []string
	if fields.Has(riskmodel.KeyTenant) {
		cols = append(cols, "tenant_id")
	}
	if fields.Has(riskmodel.KeyEntity) {
		cols = append(cols, m.EntityColumn())
	}
	if fields.Has(riskmodel.KeyDate) {
		cols = append(cols, "date")
	}
	return cols
}

func keyValues(m riskmodel.MetricType, key riskmodel.MetricKey) []any {
	fields := m.KeyFields()
	var vals []any
	if fields.Has(riskmodel.KeyTenant) {
		vals = append(vals, key.Tenant)
	}
	if fields.Has(riskmodel.KeyEntity) {
		vals = append(vals, key.Entity)
	}
	if fields.Has(riskmodel.KeyDate) {
		vals = append(vals, key.Date.Time())
	}
	return vals
}

func columnType(col string) string {
	if col == "date" {
		return "date"
	}
	return "uuid"
}

// EnsureSchema creates every metric table when absent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, m := range riskmodel.AllMetricTypes() {
		cols := keyColumns(m)
		var b strings.Builder
		fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", m.Table())
		for _, col := range cols {
			fmt.Fprintf(&b, "\t%s %s NOT NULL,\n", col, columnType(col))
		}
		b.WriteString("\tcalculated_at timestamptz NOT NULL,\n")
		b.WriteString("\tvalue float8 NOT NULL,\n")
		b.WriteString("\tinputs jsonb,\n")
		b.WriteString("\tparams jsonb,\n")
		fmt.Fprintf(&b, "\tPRIMARY KEY (%s, calculated_at)\n);\n", strings.Join(cols, ", "))
		fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS %s_key_idx ON %s (%s, calculated_at DESC);",
			m.Table(), m.Table(), strings.Join(cols, ", "))

		if _, err := p.pool.Exec(ctx, b.String()); err != nil {
			return errors.Wrap(err, "metricstore", "EnsureSchema", "create "+m.Table())
		}
	}
	return nil
}

// Store implements Store.
func (p *Postgres) Store(ctx context.Context, point riskmodel.MetricPoint) error {
	if err := point.Type.ValidateKey(point.Key); err != nil {
		return errors.WrapInvalid(err, "metricstore", "Store", "validate key")
	}

	cols := keyColumns(point.Type)
	vals := keyValues(point.Type, point.Key)
	placeholders := make([]string, 0, len(cols)+4)
	for i := 1; i <= len(cols)+4; i++ {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
	}
	args := append(vals, point.CalculatedAt, point.Value, point.Inputs, point.Params)

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s, calculated_at, value, inputs, params) VALUES (%s) ON CONFLICT DO NOTHING",
		point.Type.Table(), strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	_, err := p.pool.Exec(ctx, sql, args...)
	return errors.WrapTransient(err, "metricstore", "Store", "insert "+point.Type.Table())
}

// LoadLatest implements Store.
func (p *Postgres) LoadLatest(ctx context.Context, req Request) (riskmodel.MetricPoint, error) {
	point := riskmodel.MetricPoint{Type: req.Type, Key: req.Key}

	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	cols := keyColumns(req.Type)
	conds := make([]string, 0, len(cols))
	for i, col := range cols {
		conds = append(conds, fmt.Sprintf("%s = $%d", col, i+1))
	}
	args := append(keyValues(req.Type, req.Key), at)

	sql := fmt.Sprintf(
		"SELECT calculated_at, value, inputs, params FROM %s WHERE %s AND calculated_at <= $%d ORDER BY calculated_at DESC LIMIT 1",
		req.Type.Table(), strings.Join(conds, " AND "), len(args))

	row := p.pool.QueryRow(ctx, sql, args...)
	if err := row.Scan(&point.CalculatedAt, &point.Value, &point.Inputs, &point.Params); err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return point, &riskmodel.MissingMetricError{Type: req.Type, Key: req.Key}
		}
		return point, errors.WrapTransient(err, "metricstore", "LoadLatest", "query "+req.Type.Table())
	}
	return point, nil
}

// LoadManyLatest implements Store, preserving per-request error
// semantics. Transport failures abort the batch; absence never does.
func (p *Postgres) LoadManyLatest(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))
	for i, req := range reqs {
		point, err := p.LoadLatest(ctx, req)
		if err != nil {
			if _, missing := riskmodel.IsMissingMetric(err); !missing {
				return nil, err
			}
		}
		results[i] = Result{Request: req, Point: point, Err: err}
	}
	return results, nil
}

var _ Store = (*Postgres)(nil)
