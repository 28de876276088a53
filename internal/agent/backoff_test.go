package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/mail-agent/internal/model"
)

func TestBackoffDelaySchedule(t *testing.T) {
	a := &Agent{cfg: model.AgentConfig{BackoffSec: 1, MaxBackoffSec: 8}}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for i, expected := range want {
		assert.Equal(t, expected, a.backoffDelay(i+1), "failure %d", i+1)
	}
}

func TestBackoffDelayStartsBelowPollInterval(t *testing.T) {
	// The shipped defaults: a long poll interval with a short initial
	// backoff. The first retry must wait the configured backoff, not a
	// multiple of the poll interval.
	a := &Agent{cfg: model.AgentConfig{
		PollIntervalSec: 300,
		BackoffSec:      10,
		MaxBackoffSec:   600,
	}}

	assert.Equal(t, 10*time.Second, a.backoffDelay(1))
	assert.Equal(t, 20*time.Second, a.backoffDelay(2))
	assert.Equal(t, 600*time.Second, a.backoffDelay(7))
}

func TestBackoffDelayCapsAtCeiling(t *testing.T) {
	a := &Agent{cfg: model.AgentConfig{BackoffSec: 30, MaxBackoffSec: 20}}
	assert.Equal(t, 20*time.Second, a.backoffDelay(1))
}
