package riskmodel

import (
	"encoding/json"
	"time"
)

// MetricPoint is one observation in a metric's time-series. Points are
// append-only: CalculatedAt is the server clock at store time and is
// never mutated after write. Inputs and Params are opaque diagnostic
// payloads (resolved dependency values and the config snapshot used);
// readers must tolerate their absence.
type MetricPoint struct {
	Type         MetricType      `json:"type"`
	Key          MetricKey       `json:"key"`
	CalculatedAt time.Time       `json:"calculated_at"`
	Value        float64         `json:"value"`
	Inputs       json.RawMessage `json:"inputs,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
}

// NewPoint stamps a point with the current server clock.
func NewPoint(m MetricType, key MetricKey, value float64) MetricPoint {
	return MetricPoint{
		Type:         m,
		Key:          key,
		CalculatedAt: time.Now().UTC(),
		Value:        value,
	}
}

// WithInputs attaches the resolved dependency snapshot.
func (p MetricPoint) WithInputs(inputs any) MetricPoint {
	if inputs == nil {
		return p
	}
	if raw, err := json.Marshal(inputs); err == nil {
		p.Inputs = raw
	}
	return p
}

// WithParams attaches the configuration snapshot.
func (p MetricPoint) WithParams(params any) MetricPoint {
	if params == nil {
		return p
	}
	if raw, err := json.Marshal(params); err == nil {
		p.Params = raw
	}
	return p
}
