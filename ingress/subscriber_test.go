package ingress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsafe/riskreactor/trigger"
)

type fakeBus struct {
	subject string
	handler func(context.Context, []byte)
}

func (b *fakeBus) Subscribe(_ context.Context, subject string, handler func(context.Context, []byte)) error {
	b.subject = subject
	b.handler = handler
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []trigger.Trigger
	done chan struct{}
}

func newRecordingNotifier(expected int) *recordingNotifier {
	return &recordingNotifier{done: make(chan struct{}, expected)}
}

func (n *recordingNotifier) Notify(_ context.Context, trg trigger.Trigger) error {
	n.mu.Lock()
	n.seen = append(n.seen, trg)
	n.mu.Unlock()
	n.done <- struct{}{}
	return nil
}

func (n *recordingNotifier) wait(t *testing.T, count int) []trigger.Trigger {
	t.Helper()
	for i := 0; i < count; i++ {
		select {
		case <-n.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for trigger %d of %d", i+1, count)
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]trigger.Trigger, len(n.seen))
	copy(out, n.seen)
	return out
}

func TestSubscriberRoutesDecodedTriggers(t *testing.T) {
	bus := &fakeBus{}
	notifier := newRecordingNotifier(2)
	sub := NewSubscriber(bus, notifier, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sub.Start(ctx))
	defer func() { require.NoError(t, sub.Stop()) }()

	assert.Equal(t, SubjectAll, bus.subject)
	require.NotNil(t, bus.handler)

	want := trigger.Trigger{
		Type:   trigger.ContractorChanged,
		Tenant: uuid.New(),
		Entity: uuid.New(),
	}
	payload, err := want.Encode()
	require.NoError(t, err)
	bus.handler(ctx, payload)

	second := trigger.Trigger{Type: trigger.LibraryTaskChanged, Entity: uuid.New()}
	payload, err = second.Encode()
	require.NoError(t, err)
	bus.handler(ctx, payload)

	seen := notifier.wait(t, 2)
	assert.Contains(t, seen, want)
	assert.Contains(t, seen, second)
}

func TestSubscriberDropsGarbageAndInvalid(t *testing.T) {
	bus := &fakeBus{}
	notifier := newRecordingNotifier(1)
	sub := NewSubscriber(bus, notifier, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sub.Start(ctx))
	defer func() { require.NoError(t, sub.Stop()) }()

	bus.handler(ctx, []byte("not json"))

	// Library triggers must not carry a tenant.
	invalid := trigger.Trigger{
		Type:   trigger.LibraryTaskChanged,
		Tenant: uuid.New(),
		Entity: uuid.New(),
	}
	payload, err := invalid.Encode()
	require.NoError(t, err)
	bus.handler(ctx, payload)

	valid := trigger.Trigger{Type: trigger.ProjectChanged, Tenant: uuid.New(), Entity: uuid.New()}
	payload, err = valid.Encode()
	require.NoError(t, err)
	bus.handler(ctx, payload)

	seen := notifier.wait(t, 1)
	require.Len(t, seen, 1)
	assert.Equal(t, valid, seen[0])

	stats := sub.Stats()
	assert.EqualValues(t, 1, stats.Submitted)
}
