package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIdemBooking(t *testing.T) {
	assert.Equal(t,
		"busline:v1:idem:bookings:7:client-key-1",
		KeyIdemBooking(7, "client-key-1"),
	)
}

func TestIdempotencyStore_AcquireLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewIdempotencyStore(db, time.Hour)

	key := KeyIdemBooking(1, "k")
	mock.ExpectSetNX(key, "LOCK", time.Minute).SetVal(true)

	ok, err := store.AcquireLock(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyStore_AcquireLock_AlreadyHeld(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewIdempotencyStore(db, time.Hour)

	key := KeyIdemBooking(1, "k")
	mock.ExpectSetNX(key, "LOCK", time.Minute).SetVal(false)

	ok, err := store.AcquireLock(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotencyStore_SaveAndGetResult(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewIdempotencyStore(db, time.Hour)

	key := KeyIdemBooking(1, "k")
	payload := `{"booking_id":"abc"}`

	mock.ExpectSet(key, "RES:"+payload, time.Hour).SetVal("OK")
	require.NoError(t, store.SaveResult(context.Background(), key, payload))

	mock.ExpectGet(key).SetVal("RES:" + payload)
	got, ok, err := store.GetResult(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyStore_GetResult_MissingKey(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewIdempotencyStore(db, time.Hour)

	key := KeyIdemBooking(1, "k")
	mock.ExpectGet(key).RedisNil()

	_, ok, err := store.GetResult(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotencyStore_GetResult_LockIsNotAResult(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewIdempotencyStore(db, time.Hour)

	key := KeyIdemBooking(1, "k")
	mock.ExpectGet(key).SetVal("LOCK")

	_, ok, err := store.GetResult(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok, "an in-flight lock must not be served as a cached response")
}

func TestIdempotencyStore_IsLocked(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewIdempotencyStore(db, time.Hour)

	key := KeyIdemBooking(1, "k")

	mock.ExpectGet(key).SetVal("LOCK")
	locked, err := store.IsLocked(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, locked)

	mock.ExpectGet(key).RedisNil()
	locked, err = store.IsLocked(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestIdempotencyStore_Release(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewIdempotencyStore(db, time.Hour)

	key := KeyIdemBooking(1, "k")
	mock.ExpectDel(key).SetVal(1)

	require.NoError(t, store.Release(context.Background(), key))
	assert.NoError(t, mock.ExpectationsWereMet())
}
