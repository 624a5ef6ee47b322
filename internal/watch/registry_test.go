package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BucketScopeDispatch(t *testing.T) {
	r := NewRegistry(0)
	sub := NewSubscriber("s1", "", "b", "", 0, 4)
	r.Subscribe(sub)

	n := r.Dispatch(Event{Type: EventPut, Bucket: "b", Key: "k", Revision: 1})
	assert.Equal(t, 1, n)

	select {
	case evt := <-sub.Events():
		assert.Equal(t, "k", evt.Key)
	default:
		t.Fatal("expected a delivered event")
	}
}

func TestRegistry_KeyScopeOnlyMatchesExactKey(t *testing.T) {
	r := NewRegistry(0)
	sub := NewSubscriber("s1", "", "b", "k1", 0, 4)
	r.Subscribe(sub)

	r.Dispatch(Event{Type: EventPut, Bucket: "b", Key: "k2", Revision: 1})
	select {
	case <-sub.Events():
		t.Fatal("should not receive events for a different key")
	default:
	}

	r.Dispatch(Event{Type: EventPut, Bucket: "b", Key: "k1", Revision: 1})
	select {
	case evt := <-sub.Events():
		assert.Equal(t, "k1", evt.Key)
	default:
		t.Fatal("expected a delivered event for matching key")
	}
}

func TestRegistry_SkipsRevisionAtOrBeforeSince(t *testing.T) {
	r := NewRegistry(0)
	sub := NewSubscriber("s1", "", "b", "", 5, 4)
	r.Subscribe(sub)

	r.Dispatch(Event{Type: EventPut, Bucket: "b", Key: "k", Revision: 5})
	r.Dispatch(Event{Type: EventPut, Bucket: "b", Key: "k", Revision: 6})

	evt := <-sub.Events()
	assert.EqualValues(t, 6, evt.Revision)

	select {
	case <-sub.Events():
		t.Fatal("only revision 6 should have been delivered")
	default:
	}
}

func TestRegistry_DropsSubscriberOnFullQueue(t *testing.T) {
	r := NewRegistry(0)
	sub := NewSubscriber("s1", "", "b", "", 0, 1)
	r.Subscribe(sub)

	assert.Equal(t, 1, r.Dispatch(Event{Type: EventPut, Bucket: "b", Key: "k", Revision: 1}))
	// Queue is now full; the next dispatch overflows and drops the subscriber.
	assert.Equal(t, 0, r.Dispatch(Event{Type: EventPut, Bucket: "b", Key: "k", Revision: 2}))
	assert.True(t, sub.Closed())
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_UnsubscribeRemovesFromBothMaps(t *testing.T) {
	r := NewRegistry(0)
	bucketSub := NewSubscriber("s1", "", "b", "", 0, 4)
	keySub := NewSubscriber("s2", "", "b", "k", 0, 4)
	r.Subscribe(bucketSub)
	r.Subscribe(keySub)
	require.Equal(t, 2, r.Count())

	r.Unsubscribe(bucketSub)
	assert.Equal(t, 1, r.Count())
	r.Unsubscribe(keySub)
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_BucketNameResolution(t *testing.T) {
	r := NewRegistry(0)
	_, ok := r.BucketName("unknown-id")
	assert.False(t, ok)

	r.SeedBucket("id-1", "bucket-one")
	name, ok := r.BucketName("id-1")
	require.True(t, ok)
	assert.Equal(t, "bucket-one", name)
}
