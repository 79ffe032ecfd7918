package riskmodel

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rrerrors "github.com/fieldsafe/riskreactor/errors"
)

func TestDomainErrorsLinkToSentinels(t *testing.T) {
	mm := &MissingMetricError{Type: TaskSpecificRiskScore, Key: DatedKey(uuid.New(), uuid.New(), Today())}
	assert.True(t, stderrors.Is(mm, rrerrors.ErrKeyNotFound))

	got, ok := IsMissingMetric(fmt.Errorf("load: %w", mm))
	require.True(t, ok)
	assert.Equal(t, mm, got)

	mc := &MissingConfigError{Name: "RANKING_THRESHOLDS"}
	assert.True(t, stderrors.Is(mc, rrerrors.ErrMissingConfig))
	assert.True(t, rrerrors.IsInvalid(mc))

	_, ok = IsMissingConfig(fmt.Errorf("variant: %w", mc))
	assert.True(t, ok)
}
