package bucket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherInvokes(t *testing.T) {
	d := NewDispatcher(nil)

	var got map[string]uint64
	d.Invoke(func(counts map[string]uint64) { got = counts }, map[string]uint64{"a": 1})

	assert.Equal(t, map[string]uint64{"a": 1}, got)
}

func TestDispatcherContainsPanic(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink)

	require.NotPanics(t, func() {
		d.Invoke(func(map[string]uint64) { panic("boom") }, nil)
	})

	require.Equal(t, 1, sink.count())
	assert.Contains(t, sink.reports[0], "boom")

	// A healthy callback after a failure reports nothing new.
	d.Invoke(func(map[string]uint64) {}, nil)
	assert.Equal(t, 1, sink.count())
}
