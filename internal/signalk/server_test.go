package signalk

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
)

const testHello = `{"name":"signalk-server","version":"2.8.0","self":"vessels.urn:mrn:imo:mmsi:235000000","roles":["master"]}`

// mockServer is a SignalK stream endpoint backed by a gorilla upgrader.
//
// serve is called for every accepted connection with its 1-based index.
// When serve returns true the connection is held open until the client
// goes away; false drops it immediately.
type mockServer struct {
	*httptest.Server
	accepted atomic.Int32
}

func newMockServer(t *testing.T, serve func(n int, conn *websocket.Conn) bool) *mockServer {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	ms := &mockServer{}
	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := int(ms.accepted.Add(1))
		if !serve(n, conn) {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ms.Close)
	return ms
}

// wsURL returns the stream URL of the mock server.
func (ms *mockServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ms.URL, "http") + "/signalk/v1/stream?subscribe=self"
}

func (ms *mockServer) connections() int {
	return int(ms.accepted.Load())
}
