package wsgi

import (
	"io"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderKey(t *testing.T) {
	require.Equal(t, "HTTP_X_REQUEST_ID", HeaderKey("X-Request-Id"))
	require.Equal(t, "HTTP_HOST", HeaderKey("host"))
	require.Equal(t, "HTTP_SEC_WEBSOCKET_KEY", HeaderKey("Sec-WebSocket-Key"))
}

func TestEnviron(t *testing.T) {
	env := Environ{
		KeyRequestMethod:         "POST",
		KeyPathInfo:              "/x",
		KeyContentType:           "text/plain",
		KeyContentLength:         "5",
		HeaderKey("X-Forwarded"): "yes",
	}

	require.Equal(t, "POST", env.Method())
	require.Equal(t, "/x", env.Path())
	require.Equal(t, "text/plain", env.Header("Content-Type"))
	require.Equal(t, "5", env.Header("content-length"))
	require.Equal(t, "yes", env.Header("x-forwarded"))
	require.Equal(t, 5, env.ContentLength())
	require.Nil(t, env.Input())
	require.Nil(t, env.Protocol())
	require.Equal(t, io.Discard, env.Errors())

	delete(env, KeyContentLength)
	require.Equal(t, -1, env.ContentLength())
}

func collect(body Body) (chunks []string) {
	for chunk, err := range body {
		if err != nil {
			break
		}

		chunks = append(chunks, string(chunk))
	}

	return chunks
}

func TestBodies(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, collect(Chunks([]byte("a"), []byte("b"))))
	require.Equal(t, []string{"hello"}, collect(String("hello")))
	require.Empty(t, collect(Empty()))

	var first []string
	for chunk := range Chunks([]byte("1"), []byte("2"), []byte("3")) {
		first = append(first, string(chunk))
		break
	}
	require.True(t, slices.Equal([]string{"1"}, first))
}

func TestKind(t *testing.T) {
	for _, kind := range []Kind{Cooperative, Blocking} {
		require.Equal(t, kind, ParseKind(kind.String()))
	}

	require.Zero(t, ParseKind("threaded"))
	require.Equal(t, Blocking, NewBlocking(nil).Kind)
	require.Equal(t, Cooperative, NewCooperative(nil).Kind)
}
