package reactorqueue

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsafe/riskreactor/riskmodel"
)

func TestDedupKeyIgnoresAttempt(t *testing.T) {
	job := NewJob(riskmodel.TaskSpecificRiskScore,
		riskmodel.DatedKey(uuid.New(), uuid.New(), riskmodel.Today()))
	assert.Equal(t, job.DedupKey(), job.Retry().DedupKey())
}

func TestJobWireRoundTrip(t *testing.T) {
	job := Job{
		Type:    riskmodel.LocationTotalTaskRiskScore,
		Key:     riskmodel.DatedKey(uuid.New(), uuid.New(), riskmodel.Today()),
		Attempt: 3,
	}
	payload, err := job.Encode()
	require.NoError(t, err)
	got, err := DecodeJob(payload)
	require.NoError(t, err)
	assert.Equal(t, job, got)
}
