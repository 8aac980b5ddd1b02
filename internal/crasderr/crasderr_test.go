package crasderr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gen2brain/crasd/internal/crasderr"
)

func TestClassification(t *testing.T) {
	err := crasderr.Protocolf("bad header length %d", 12)
	assert.True(t, errors.Is(err, crasderr.ErrProtocol))
	assert.False(t, errors.Is(err, crasderr.ErrResource))
	assert.Equal(t, "bad header length 12", err.Error())
}

func TestPredicateHelpers(t *testing.T) {
	assert.True(t, crasderr.IsBackendFatal(crasderr.BackendFatalf("alsa gone")))
	assert.False(t, crasderr.IsBackendFatal(crasderr.Protocolf("bad frame")))

	assert.True(t, crasderr.IsClientFatal(crasderr.ClientFatalf("socket closed")))
	assert.True(t, crasderr.IsProtocol(crasderr.Protocolf("bad frame")))
}

func TestAllSentinelsDistinct(t *testing.T) {
	sentinels := []error{
		crasderr.ErrProtocol,
		crasderr.ErrResource,
		crasderr.ErrBackendFatal,
		crasderr.ErrClientFatal,
		crasderr.ErrConfig,
		crasderr.ErrTimeout,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "sentinel %d should not match sentinel %d", i, j)
		}
	}
}
