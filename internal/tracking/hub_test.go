package tracking

import (
	"sync"
	"testing"

	"github.com/narvaro/busline/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(busID int64) domain.LocationSample {
	return domain.LocationSample{BusID: busID, Lat: 1, Lng: 2}
}

func TestHub_PublishReachesSubscribers(t *testing.T) {
	h := NewHub()

	a := h.Subscribe("conn-a", 1)
	b := h.Subscribe("conn-b", 1)

	delivered := h.Publish(sample(1))
	assert.Equal(t, 2, delivered)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, int64(1), (<-a).BusID)
	assert.Equal(t, int64(1), (<-b).BusID)
}

func TestHub_PerBusIsolation(t *testing.T) {
	h := NewHub()

	bus1 := h.Subscribe("conn-a", 1)
	bus2 := h.Subscribe("conn-a", 2)

	h.Publish(sample(1))

	require.Len(t, bus1, 1)
	assert.Len(t, bus2, 0, "a publish on bus 1 must not reach bus 2 subscribers")
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	h := NewHub()
	assert.Equal(t, 0, h.Publish(sample(42)))
}

func TestHub_ResubscribeReplacesChannel(t *testing.T) {
	h := NewHub()

	old := h.Subscribe("conn-a", 1)
	fresh := h.Subscribe("conn-a", 1)

	_, open := <-old
	assert.False(t, open, "replaced channel must be closed")

	assert.Equal(t, 1, h.Subscribers(1))
	h.Publish(sample(1))
	require.Len(t, fresh, 1)
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub()

	ch := h.Subscribe("conn-a", 1)
	h.Unsubscribe("conn-a", 1)

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.Subscribers(1))

	// repeated and unknown unsubscribes are no-ops
	h.Unsubscribe("conn-a", 1)
	h.Unsubscribe("nobody", 99)
}

func TestHub_UnsubscribeAll(t *testing.T) {
	h := NewHub()

	ch1 := h.Subscribe("conn-a", 1)
	ch2 := h.Subscribe("conn-a", 2)
	other := h.Subscribe("conn-b", 1)

	dropped := h.UnsubscribeAll("conn-a")
	assert.ElementsMatch(t, []int64{1, 2}, dropped)

	_, open := <-ch1
	assert.False(t, open)
	_, open = <-ch2
	assert.False(t, open)

	assert.Equal(t, 1, h.Subscribers(1))
	assert.Empty(t, h.UnsubscribeAll("conn-a"), "repeat drop detaches nothing")
	h.Publish(sample(1))
	require.Len(t, other, 1)
}

func TestHub_SlowSubscriberMissesInsteadOfBlocking(t *testing.T) {
	h := NewHub()

	ch := h.Subscribe("conn-a", 1)
	for i := 0; i < defaultBuffer; i++ {
		require.Equal(t, 1, h.Publish(sample(1)))
	}

	// buffer full: publish must not block and must report zero deliveries
	assert.Equal(t, 0, h.Publish(sample(1)))
	assert.Len(t, ch, defaultBuffer)
}

func TestHub_ConcurrentPublishAndSubscribe(t *testing.T) {
	h := NewHub()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		id := string(rune('a' + i))
		go func() {
			defer wg.Done()
			h.Subscribe("conn-"+id, 1)
		}()
		go func() {
			defer wg.Done()
			h.Publish(sample(1))
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, h.Subscribers(1))
}
