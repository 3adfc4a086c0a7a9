package tokenstore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_SetGetClear(t *testing.T) {
	t.Parallel()

	s := New()
	assert.Empty(t, s.Get())

	s.Set("token-1")
	assert.Equal(t, "token-1", s.Get())

	s.Set("token-2")
	assert.Equal(t, "token-2", s.Get())

	s.Clear()
	assert.Empty(t, s.Get())
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Set("tok")
		}()
		go func() {
			defer wg.Done()
			_ = s.Get()
		}()
	}
	wg.Wait()
	assert.Equal(t, "tok", s.Get())
}
