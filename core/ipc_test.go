package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsShutdownSignal(t *testing.T) {
	assert.True(t, IsShutdownSignal(ProducerFinished{}))
	assert.True(t, IsShutdownSignal(&ProducerFinished{Sender: "x"}))
	assert.True(t, IsShutdownSignal(ShutdownMicroprocess{}))
	assert.True(t, IsShutdownSignal(&ShutdownMicroprocess{Reason: "test"}))
	assert.False(t, IsShutdownSignal("shutdown"))
	assert.False(t, IsShutdownSignal(nil))
}

// TestCheckControl verifies the control inbox is drained and the shutdown notice found
func TestCheckControl(t *testing.T) {
	task := NewTask("watcher", nil, WithPostOffice(NewPostOffice(nil)))

	_, done := CheckControl(task)
	assert.False(t, done)

	require.NoError(t, task.Deliver("noise", BoxControl))
	require.NoError(t, task.Deliver(ShutdownMicroprocess{Reason: "bye"}, BoxControl))
	require.NoError(t, task.Deliver("more noise", BoxControl))

	msg, done := CheckControl(task)
	assert.True(t, done)
	assert.Equal(t, ShutdownMicroprocess{Reason: "bye"}, msg)
	assert.False(t, task.DataReady(BoxControl))
}
