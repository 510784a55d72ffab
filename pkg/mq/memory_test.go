package mq

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue(t *testing.T) {
	t.Run("publish records and delivers", func(t *testing.T) {
		q := NewInMemoryQueue()

		var got [][]byte
		require.NoError(t, q.Subscribe("t", func(m []byte) error {
			got = append(got, m)
			return nil
		}))

		require.NoError(t, q.Publish("t", []byte("a")))
		require.NoError(t, q.PublishWithKey("t", "u1", []byte("b")))

		assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, got)
		assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, q.GetMessages("t"))
		assert.Equal(t, []string{"", "u1"}, q.GetKeys("t"))
		assert.Empty(t, q.GetMessages("other"))
	})

	t.Run("handler error is returned", func(t *testing.T) {
		q := NewInMemoryQueue()
		boom := errors.New("boom")
		require.NoError(t, q.Subscribe("t", func([]byte) error { return boom }))

		assert.ErrorIs(t, q.Publish("t", []byte("a")), boom)
		assert.Len(t, q.GetMessages("t"), 1)
	})

	t.Run("handler may publish", func(t *testing.T) {
		q := NewInMemoryQueue()
		require.NoError(t, q.Subscribe("in", func(m []byte) error {
			return q.Publish("out", m)
		}))

		require.NoError(t, q.Publish("in", []byte("x")))
		assert.Len(t, q.GetMessages("out"), 1)
	})

	t.Run("concurrent publish", func(t *testing.T) {
		q := NewInMemoryQueue()

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = q.Publish("t", []byte("m"))
			}()
		}
		wg.Wait()

		assert.Len(t, q.GetMessages("t"), 32)
	})
}
