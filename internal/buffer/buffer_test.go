package buffer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func pushSegment(t *testing.T, buff *Buffer, text string) {
	require.True(t, buff.Append([]byte(text)))
	require.Equal(t, text, string(buff.Finish()))
}

func BenchmarkBuffer(b *testing.B) {
	buff := New(1024, 4096)
	smallString := []byte(strings.Repeat("a", 1023))

	b.ReportAllocs()
	b.SetBytes(int64(len(smallString)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if !buff.Append(smallString) {
			buff = New(1024, 4096)
		}

		_ = buff.Finish()
	}
}

func TestBuffer(t *testing.T) {
	t.Run("segments survive growth", func(t *testing.T) {
		buff := New(4, 64)
		first := []byte("Hello")
		require.True(t, buff.Append(first))
		hello := buff.Finish()
		pushSegment(t, buff, strings.Repeat("x", 30))
		require.Equal(t, "Hello", string(hello))
	})

	t.Run("streaming segment", func(t *testing.T) {
		buff := New(8, 64)
		require.True(t, buff.Append([]byte("Con")))
		require.True(t, buff.Append([]byte("tent-")))
		require.Equal(t, 8, buff.SegmentLength())
		require.True(t, buff.Append([]byte("Length")))
		require.Equal(t, "Content-Length", string(buff.Finish()))
		require.Zero(t, buff.SegmentLength())
	})

	t.Run("overflow", func(t *testing.T) {
		buff := New(4, 8)
		require.True(t, buff.Append([]byte("1234")))
		require.False(t, buff.Append([]byte("56789")))
		require.Equal(t, "1234", string(buff.Finish()))
	})

	t.Run("appending to a finished segment doesn't corrupt it", func(t *testing.T) {
		buff := New(64, 64)
		pushSegment(t, buff, "ab")
		segment := buff.Finish()
		require.Empty(t, segment)

		require.True(t, buff.Append([]byte("cd")))
		first := buff.Finish()
		first = append(first, 'z')
		require.True(t, buff.Append([]byte("ef")))
		require.Equal(t, "ef", string(buff.Finish()))
		require.Equal(t, "cdz", string(first))
	})
}
