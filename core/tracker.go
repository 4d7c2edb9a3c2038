package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	ErrServiceExists   = errors.New("service already registered")
	ErrServiceNotFound = errors.New("service not registered")
	ErrNamespaceClash  = errors.New("value already tracked")
	ErrUntrackedValue  = errors.New("value not tracked")
)

// Tracker is a directory of named services and shared values. A service is
// an inbox that other tasks may link to by name. Lookups that miss fall
// back to the parent tracker, if any.
type Tracker struct {
	mu       sync.RWMutex
	parent   *Tracker
	services map[string]BoxRef
	values   map[string]any
}

// NewTracker creates a tracker. parent may be nil.
func NewTracker(parent *Tracker) *Tracker {
	return &Tracker{
		parent:   parent,
		services: make(map[string]BoxRef),
		values:   make(map[string]any),
	}
}

var (
	defaultTracker     *Tracker
	defaultTrackerOnce sync.Once
)

// DefaultTracker returns the process-wide root tracker.
func DefaultTracker() *Tracker {
	defaultTrackerOnce.Do(func() {
		defaultTracker = NewTracker(nil)
	})
	return defaultTracker
}

// RegisterService offers the named inbox of t as service name.
func (tr *Tracker) RegisterService(name string, t *Task, inbox string) error {
	if t == nil || !t.HasInbox(inbox) {
		owner := "<nil>"
		if t != nil {
			owner = t.Name()
		}
		return unknownBox(owner, Inbox.String(), inbox)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, ok := tr.services[name]; ok {
		return fmt.Errorf("%w: %s", ErrServiceExists, name)
	}
	tr.services[name] = Ref(t, inbox)
	return nil
}

// DeregisterService withdraws a service.
func (tr *Tracker) DeregisterService(name string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, ok := tr.services[name]; !ok {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	delete(tr.services, name)
	return nil
}

// RetrieveService returns the inbox registered under name.
func (tr *Tracker) RetrieveService(name string) (BoxRef, error) {
	tr.mu.RLock()
	ref, ok := tr.services[name]
	tr.mu.RUnlock()
	if ok {
		return ref, nil
	}
	if tr.parent != nil {
		return tr.parent.RetrieveService(name)
	}
	return BoxRef{}, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
}

// Services returns the locally registered service names, sorted.
func (tr *Tracker) Services() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	names := make([]string, 0, len(tr.services))
	for n := range tr.services {
		names = append(names, n)
	}
	slices.SortFunc(names, strings.Compare)
	return names
}

// TrackValue starts tracking value under name. Tracking a name twice is a
// namespace clash.
func (tr *Tracker) TrackValue(name string, value any) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, ok := tr.values[name]; ok {
		return fmt.Errorf("%w: %s", ErrNamespaceClash, name)
	}
	tr.values[name] = value
	return nil
}

// UpdateValue replaces a tracked value.
func (tr *Tracker) UpdateValue(name string, value any) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, ok := tr.values[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUntrackedValue, name)
	}
	tr.values[name] = value
	return nil
}

// RetrieveValue returns a tracked value.
func (tr *Tracker) RetrieveValue(name string) (any, error) {
	tr.mu.RLock()
	v, ok := tr.values[name]
	tr.mu.RUnlock()
	if ok {
		return v, nil
	}
	if tr.parent != nil {
		return tr.parent.RetrieveValue(name)
	}
	return nil, fmt.Errorf("%w: %s", ErrUntrackedValue, name)
}

// Values returns the locally tracked names, sorted.
func (tr *Tracker) Values() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	names := make([]string, 0, len(tr.values))
	for n := range tr.values {
		names = append(names, n)
	}
	slices.SortFunc(names, strings.Compare)
	return names
}

// Reset forgets every service and value.
func (tr *Tracker) Reset() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.services = make(map[string]BoxRef)
	tr.values = make(map[string]any)
}
