package session

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/room4-2/duplexvoice/transport"
)

func TestStateOnlyMovesForward(t *testing.T) {
	var s stateCell
	assert.Equal(t, Idle, s.load())

	assert.True(t, s.advance(Idle, Connecting))
	assert.False(t, s.advance(Idle, Connecting), "from no longer matches")
	assert.False(t, s.advance(Connecting, Idle), "backwards")
	assert.True(t, s.advance(Connecting, Streaming))

	prev, ok := s.stopping()
	assert.True(t, ok)
	assert.Equal(t, Streaming, prev)

	_, ok = s.stopping()
	assert.False(t, ok)
	assert.True(t, s.advance(Stopping, Closed))
	assert.Equal(t, "closed", s.load().String())
}

func TestStoppingHasOneWinner(t *testing.T) {
	var s stateCell
	s.advance(Idle, Streaming)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.stopping(); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, Stopping, s.load())
}

func TestStopReasonStatus(t *testing.T) {
	normal := &websocket.CloseError{Code: websocket.CloseNormalClosure}
	away := &websocket.CloseError{Code: websocket.CloseGoingAway}
	abnormal := &websocket.CloseError{Code: websocket.CloseAbnormalClosure}

	tests := []struct {
		name    string
		reason  stopReason
		limited bool
		want    Status
	}{
		{"caller", stopReason{kind: reasonCaller}, false, StatusDisconnected},
		{"context", stopReason{kind: reasonContext}, false, StatusDisconnected},
		{"caller with limit", stopReason{kind: reasonCaller}, true, StatusDisconnected},
		{"duration", stopReason{kind: reasonDuration}, true, StatusTimeout},
		{"peer normal close", stopReason{kind: reasonTransport, err: normal}, false, StatusDisconnected},
		{"peer going away", stopReason{kind: reasonTransport, err: away}, false, StatusDisconnected},
		{"peer close within limit", stopReason{kind: reasonTransport, err: normal}, true, StatusCompleted},
		{"abnormal close", stopReason{kind: reasonTransport, err: abnormal}, false, StatusError},
		{"other transport error", stopReason{kind: reasonTransport, err: errors.New("reset")}, false, StatusError},
		{"device", stopReason{kind: reasonDevice, err: errors.New("sox died")}, false, StatusError},
		{"connect", stopReason{kind: reasonConnect, err: errors.New("refused")}, false, StatusError},
		{"local close", transportStop(transport.ErrClosed), false, StatusDisconnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.reason.status(tt.limited))
		})
	}
}

func TestTruncatePrompt(t *testing.T) {
	assert.Equal(t, "short", truncatePrompt("short"))

	exact := strings.Repeat("a", 100)
	assert.Equal(t, exact, truncatePrompt(exact))

	long := strings.Repeat("é", 150)
	got := truncatePrompt(long)
	assert.Equal(t, strings.Repeat("é", 100)+"...", got)
}
