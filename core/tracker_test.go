package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTracker_Services verifies service registration lifecycle
// Main test items:
// 1. Register, retrieve and list a service
// 2. Duplicate names and unknown inboxes are rejected
// 3. Deregistering twice fails
func TestTracker_Services(t *testing.T) {
	po := NewPostOffice(nil)
	svc := NewTask("selector", nil, WithPostOffice(po))
	tr := NewTracker(nil)

	require.NoError(t, tr.RegisterService("selector", svc, BoxInbox))
	assert.ErrorIs(t, tr.RegisterService("selector", svc, BoxControl), ErrServiceExists)
	assert.ErrorIs(t, tr.RegisterService("other", svc, "missing"), ErrUnknownBox)
	assert.ErrorIs(t, tr.RegisterService("nil", nil, BoxInbox), ErrUnknownBox)

	ref, err := tr.RetrieveService("selector")
	require.NoError(t, err)
	assert.Equal(t, Ref(svc, BoxInbox), ref)
	assert.Equal(t, []string{"selector"}, tr.Services())

	require.NoError(t, tr.DeregisterService("selector"))
	assert.ErrorIs(t, tr.DeregisterService("selector"), ErrServiceNotFound)
	_, err = tr.RetrieveService("selector")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

// TestTracker_Values verifies tracked values and namespace clashes
func TestTracker_Values(t *testing.T) {
	tr := NewTracker(nil)

	require.NoError(t, tr.TrackValue("clients", 0))
	assert.ErrorIs(t, tr.TrackValue("clients", 1), ErrNamespaceClash)
	require.NoError(t, tr.UpdateValue("clients", 3))
	assert.ErrorIs(t, tr.UpdateValue("missing", 1), ErrUntrackedValue)

	v, err := tr.RetrieveValue("clients")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	_, err = tr.RetrieveValue("missing")
	assert.ErrorIs(t, err, ErrUntrackedValue)
	assert.Equal(t, []string{"clients"}, tr.Values())

	tr.Reset()
	assert.Empty(t, tr.Values())
}

// TestTracker_ParentFallback verifies lookups fall through to the parent tracker
func TestTracker_ParentFallback(t *testing.T) {
	po := NewPostOffice(nil)
	svc := NewTask("svc", nil, WithPostOffice(po))
	root := NewTracker(nil)
	child := NewTracker(root)
	require.NoError(t, root.RegisterService("shared", svc, BoxInbox))
	require.NoError(t, root.TrackValue("limit", 10))

	ref, err := child.RetrieveService("shared")
	require.NoError(t, err)
	assert.Equal(t, svc, ref.Task)
	v, err := child.RetrieveValue("limit")
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	// local registrations shadow the parent
	require.NoError(t, child.TrackValue("limit", 1))
	v, _ = child.RetrieveValue("limit")
	assert.Equal(t, 1, v)
	assert.Same(t, DefaultTracker(), DefaultTracker())
}

// TestTracker_LinkToService verifies a client can wire itself to a looked-up service
func TestTracker_LinkToService(t *testing.T) {
	po := NewPostOffice(nil)
	svc := NewTask("svc", nil, WithPostOffice(po))
	client := NewTask("client", nil, WithPostOffice(po))
	tr := NewTracker(nil)
	require.NoError(t, tr.RegisterService("echo", svc, BoxInbox))

	ref, err := tr.RetrieveService("echo")
	require.NoError(t, err)
	_, err = client.Link(Ref(client, BoxOutbox), ref)
	require.NoError(t, err)
	require.NoError(t, client.Send("ping", BoxOutbox))

	msg, err := svc.Recv(BoxInbox)
	require.NoError(t, err)
	assert.Equal(t, "ping", msg)
}
