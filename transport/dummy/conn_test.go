package dummy

import (
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConn(t *testing.T) {
	t.Run("chunks are kept apart", func(t *testing.T) {
		conn := NewConn([]byte("Hello"), []byte("world!"))
		conn.Hangup()
		buff := make([]byte, 64)

		for _, want := range []string{"Hello", "world!"} {
			n, err := conn.Read(buff)
			require.NoError(t, err)
			require.Equal(t, want, string(buff[:n]))
		}

		_, err := conn.Read(buff)
		require.ErrorIs(t, err, io.EOF)
	})

	t.Run("small reads", func(t *testing.T) {
		conn := NewConn([]byte("Hello"))
		buff := make([]byte, 2)
		var got string

		for len(got) < 5 {
			n, err := conn.Read(buff)
			require.NoError(t, err)
			got += string(buff[:n])
		}

		require.Equal(t, "Hello", got)
	})

	t.Run("close unblocks reads", func(t *testing.T) {
		conn := NewConn()
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = conn.Close()
		}()

		_, err := conn.Read(make([]byte, 1))
		require.ErrorIs(t, err, net.ErrClosed)
		require.True(t, conn.Closed())
	})

	t.Run("deadline", func(t *testing.T) {
		conn := NewConn()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Millisecond)))
		_, err := conn.Read(make([]byte, 1))
		require.ErrorIs(t, err, os.ErrDeadlineExceeded)
	})

	t.Run("half-close", func(t *testing.T) {
		conn := NewConn()
		_, err := conn.Write([]byte("response"))
		require.NoError(t, err)
		require.NoError(t, conn.CloseWrite())
		require.True(t, conn.HalfClosed())
		require.False(t, conn.Closed())

		_, err = conn.Write([]byte("late"))
		require.Error(t, err)
		require.Equal(t, "response", conn.Written())
	})
}
