package motion

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogStreams(t *testing.T) {
	var ops, trace bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops, Trace: &trace})
	defer SetLogWriters(LogWriters{})

	Opsf("feature bone %q not found", "Tail")
	Diagf("dropped because diag is disabled")
	Tracef("search cost=%.2f", 1.5)

	assert.Contains(t, ops.String(), `[motion] `)
	assert.Contains(t, ops.String(), `feature bone "Tail" not found`)
	assert.Contains(t, trace.String(), "search cost=1.50")
	assert.NotContains(t, ops.String(), "dropped")
	assert.NotContains(t, trace.String(), "dropped")
}
