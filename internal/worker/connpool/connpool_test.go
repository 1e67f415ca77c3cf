package connpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_GetPutIsO1FreeList(t *testing.T) {
	s := New(4, 1024)
	require.Equal(t, 4, s.Cap())

	var got []*Conn
	for i := 0; i < 4; i++ {
		c, ok := s.Get()
		require.True(t, ok)
		got = append(got, c)
	}

	_, ok := s.Get()
	assert.False(t, ok, "pool should be exhausted")

	s.Put(got[0])
	c, ok := s.Get()
	require.True(t, ok)
	assert.Same(t, got[0], c)
}

func TestSet_HarvestsOldestReusableWhenExhausted(t *testing.T) {
	s := New(2, 1024)
	a, _ := s.Get()
	b, _ := s.Get()

	s.MarkReusable(a)
	s.MarkReusable(b)

	c, ok := s.Get()
	require.True(t, ok)
	assert.True(t, c == a || c == b)
}

func TestSet_ActiveCount(t *testing.T) {
	s := New(3, 1024)
	assert.Equal(t, 0, s.Active())
	c, _ := s.Get()
	assert.Equal(t, 1, s.Active())
	s.Put(c)
	assert.Equal(t, 0, s.Active())
}
