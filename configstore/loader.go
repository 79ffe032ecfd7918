package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fieldsafe/riskreactor/errors"
	"github.com/fieldsafe/riskreactor/riskmodel"
)

// Store is the raw row surface. LoadRaw resolves the tenant-then-default
// fallback per name and omits names with no row at all; StoreRaw upserts
// the tenant row (nil tenant writes the default row).
type Store interface {
	LoadRaw(ctx context.Context, tenant uuid.UUID, names []string) (map[string]string, error)
	StoreRaw(ctx context.Context, tenant *uuid.UUID, name, value string) error
}

// Loader reads typed configuration objects through a Store.
type Loader struct {
	store Store
}

// NewLoader wraps a Store.
func NewLoader(store Store) *Loader {
	return &Loader{store: store}
}

// ParseValue coerces a raw row value into T: strings pass through,
// numeric and boolean types parse from their string form, and any other
// type parses from JSON (unknown fields ignored).
func ParseValue[T any](raw string) (T, error) {
	var out T
	switch p := any(&out).(type) {
	case *string:
		*p = raw
		return out, nil
	case *float64:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return out, fmt.Errorf("parse float config: %w: %w", errors.ErrInvalidConfig, err)
		}
		*p = v
		return out, nil
	case *int:
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return out, fmt.Errorf("parse int config: %w: %w", errors.ErrInvalidConfig, err)
		}
		*p = v
		return out, nil
	case *bool:
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return out, fmt.Errorf("parse bool config: %w: %w", errors.ErrInvalidConfig, err)
		}
		*p = v
		return out, nil
	case *riskmodel.VariantTag:
		*p = riskmodel.VariantTag(strings.TrimSpace(raw))
		return out, nil
	default:
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return out, fmt.Errorf("parse json config: %w: %w", errors.ErrInvalidConfig, err)
		}
		return out, nil
	}
}

// Load resolves one named value for a tenant, falling back to def when
// no row exists. A nil def makes the name mandatory: absence yields
// MissingConfigError.
func Load[T any](ctx context.Context, s Store, tenant uuid.UUID, name string, def *T) (T, error) {
	var zero T
	rows, err := s.LoadRaw(ctx, tenant, []string{name})
	if err != nil {
		return zero, err
	}
	raw, ok := rows[name]
	if !ok {
		if def == nil {
			return zero, &riskmodel.MissingConfigError{Name: name, Tenant: tenant}
		}
		return *def, nil
	}
	return ParseValue[T](raw)
}

// LoadVariant resolves a metric family's variant tag. An unknown tag is
// reported as MissingConfigError: variants must never fall back
// silently.
func (l *Loader) LoadVariant(ctx context.Context, tenant uuid.UUID, spec Spec) (riskmodel.VariantTag, error) {
	rows, err := l.store.LoadRaw(ctx, tenant, []string{spec.TypeName()})
	if err != nil {
		return "", err
	}
	return l.variantFrom(rows, tenant, spec)
}

func (l *Loader) variantFrom(rows map[string]string, tenant uuid.UUID, spec Spec) (riskmodel.VariantTag, error) {
	raw, ok := rows[spec.TypeName()]
	if !ok {
		if spec.DefaultVariant == "" {
			return "", &riskmodel.MissingConfigError{Name: spec.TypeName(), Tenant: tenant}
		}
		return spec.DefaultVariant, nil
	}
	tag := riskmodel.VariantTag(strings.TrimSpace(raw))
	if !tag.Valid() {
		return "", &riskmodel.MissingConfigError{Name: spec.TypeName(), Tenant: tenant}
	}
	return tag, nil
}

// LoadMetricConfig resolves a non-ranked family config.
func (l *Loader) LoadMetricConfig(ctx context.Context, tenant uuid.UUID, spec Spec) (riskmodel.MetricConfig, error) {
	tag, err := l.LoadVariant(ctx, tenant, spec)
	if err != nil {
		return riskmodel.MetricConfig{}, err
	}
	return riskmodel.MetricConfig{Type: tag}, nil
}

// LoadRankedConfig resolves a ranked family config in a single store
// round-trip: variant, thresholds and weights.
func (l *Loader) LoadRankedConfig(ctx context.Context, tenant uuid.UUID, spec Spec) (riskmodel.RankedMetricConfig, error) {
	var cfg riskmodel.RankedMetricConfig
	rows, err := l.store.LoadRaw(ctx, tenant, spec.Names())
	if err != nil {
		return cfg, err
	}

	cfg.Type, err = l.variantFrom(rows, tenant, spec)
	if err != nil {
		return cfg, err
	}

	if raw, ok := rows[spec.ThresholdsName()]; ok {
		cfg.Thresholds, err = ParseValue[riskmodel.RankingThresholds](raw)
		if err != nil {
			return cfg, fmt.Errorf("config %s: %w", spec.ThresholdsName(), err)
		}
	} else if spec.DefaultThresholds != nil {
		cfg.Thresholds = *spec.DefaultThresholds
	} else {
		return cfg, &riskmodel.MissingConfigError{Name: spec.ThresholdsName(), Tenant: tenant}
	}

	if raw, ok := rows[spec.WeightsName()]; ok {
		cfg.Weights, err = ParseValue[riskmodel.RankingWeight](raw)
		if err != nil {
			return cfg, fmt.Errorf("config %s: %w", spec.WeightsName(), err)
		}
	} else if spec.DefaultWeights != nil {
		cfg.Weights = *spec.DefaultWeights
	} else {
		return cfg, &riskmodel.MissingConfigError{Name: spec.WeightsName(), Tenant: tenant}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// StoreRankedConfig writes every part of a ranked config for a tenant
// (nil tenant writes the default rows). The admin surface uses it.
func (l *Loader) StoreRankedConfig(ctx context.Context, tenant *uuid.UUID, spec Spec, cfg riskmodel.RankedMetricConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := l.store.StoreRaw(ctx, tenant, spec.TypeName(), string(cfg.Type)); err != nil {
		return err
	}
	thresholds, err := json.Marshal(cfg.Thresholds)
	if err != nil {
		return err
	}
	if err := l.store.StoreRaw(ctx, tenant, spec.ThresholdsName(), string(thresholds)); err != nil {
		return err
	}
	weights, err := json.Marshal(cfg.Weights)
	if err != nil {
		return err
	}
	return l.store.StoreRaw(ctx, tenant, spec.WeightsName(), string(weights))
}

// StorePartial writes a single named part, leaving the rest untouched.
func (l *Loader) StorePartial(ctx context.Context, tenant *uuid.UUID, name, value string) error {
	if !strings.HasPrefix(name, Namespace) {
		return fmt.Errorf("config name %q outside the %s namespace", name, Namespace)
	}
	return l.store.StoreRaw(ctx, tenant, name, value)
}
