package tokenstore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validToken(ttl time.Duration) TokenData {
	return TokenData{
		AccessToken: "tok-abc",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(ttl),
		Scope:       "api:read",
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.Store(validToken(time.Hour)))

	got, err := s.Retrieve()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok-abc", got.AccessToken)
	assert.Equal(t, "api:read", got.Scope)
}

func TestMemoryStoreSanitizesInput(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.Store(TokenData{
		AccessToken: "  padded-token \n",
		TokenType:   " bearer ",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	got, err := s.Retrieve()
	require.NoError(t, err)
	assert.Equal(t, "padded-token", got.AccessToken)
	assert.Equal(t, "bearer", got.TokenType)
}

func TestMemoryStoreRejectsEmptyAccessToken(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	assert.ErrorIs(t, s.Store(TokenData{AccessToken: "   "}), ErrEmptyAccessToken)
}

func TestMemoryStoreDefaultsTokenType(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.Store(TokenData{AccessToken: "x", ExpiresAt: time.Now().Add(time.Hour)}))
	got, _ := s.Retrieve()
	assert.Equal(t, "Bearer", got.TokenType)
}

func TestMemoryStoreIsExpired(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	// No token.
	assert.True(t, s.IsExpired())

	// Fresh token.
	require.NoError(t, s.Store(validToken(time.Hour)))
	assert.False(t, s.IsExpired())

	// Inside the 5-minute buffer.
	require.NoError(t, s.Store(validToken(time.Minute)))
	assert.True(t, s.IsExpired())
	assert.False(t, s.IsExpiredWithin(0))

	// Zero expiry counts as expired.
	require.NoError(t, s.Store(TokenData{AccessToken: "x"}))
	assert.True(t, s.IsExpiredWithin(0))
}

func TestMemoryStoreClear(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.Store(validToken(time.Hour)))
	require.NoError(t, s.Clear())

	got, err := s.Retrieve()
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.True(t, s.IsExpired())
}

func TestMemoryStoreRetrieveReturnsDefensiveCopy(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.Store(validToken(time.Hour)))
	first, _ := s.Retrieve()
	first.AccessToken = "mutated"

	second, _ := s.Retrieve()
	assert.Equal(t, "tok-abc", second.AccessToken)
}

func TestMemoryStoreScheduledRefreshFires(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	fired := make(chan struct{}, 1)
	s.ScheduleRefresh(func() { fired <- struct{}{} })

	// Expiry just past the buffer so the timer fires almost immediately.
	require.NoError(t, s.Store(TokenData{
		AccessToken: "x",
		ExpiresAt:   time.Now().Add(DefaultExpiryBuffer + 50*time.Millisecond),
	}))

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh callback did not fire")
	}
}

func TestMemoryStoreClearCancelsRefreshTimer(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	fired := make(chan struct{}, 1)
	s.ScheduleRefresh(func() { fired <- struct{}{} })
	require.NoError(t, s.Store(TokenData{
		AccessToken: "x",
		ExpiresAt:   time.Now().Add(DefaultExpiryBuffer + 100*time.Millisecond),
	}))
	require.NoError(t, s.Clear())

	select {
	case <-fired:
		t.Fatal("refresh fired after Clear")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestMemoryStoreConcurrentOperationsSerialized(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = s.Store(validToken(time.Hour))
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Retrieve()
		}()
		go func() {
			defer wg.Done()
			_ = s.IsExpired()
		}()
	}
	wg.Wait()

	got, err := s.Retrieve()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok-abc", got.AccessToken)
}
