package sse

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// BroadcasterSuite is a test suite for Broadcaster operations.
type BroadcasterSuite struct {
	suite.Suite
	broadcaster *Broadcaster
}

func (s *BroadcasterSuite) SetupTest() {
	s.broadcaster = NewBroadcaster()
}

func TestBroadcasterSuite(t *testing.T) {
	suite.Run(t, new(BroadcasterSuite))
}

// mockResponseWriter implements http.ResponseWriter and http.Flusher for testing.
type mockResponseWriter struct {
	header   http.Header
	body     []byte
	failWith error
	mu       sync.Mutex
}

func newMockResponseWriter() *mockResponseWriter {
	return &mockResponseWriter{header: make(http.Header)}
}

func (m *mockResponseWriter) Header() http.Header {
	return m.header
}

func (m *mockResponseWriter) Write(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	m.body = append(m.body, data...)
	return len(data), nil
}

func (m *mockResponseWriter) WriteHeader(int) {}

func (m *mockResponseWriter) Flush() {}

func (m *mockResponseWriter) Body() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.body)
}

// failingPayload cannot be encoded.
type failingPayload struct{}

func (failingPayload) MarshalJSON() ([]byte, error) {
	return nil, errors.New("cannot encode")
}

// noFlushWriter lacks http.Flusher.
type noFlushWriter struct {
	http.ResponseWriter
}

func (s *BroadcasterSuite) TestNewBroadcaster() {
	s.NotNil(s.broadcaster.clients)
	s.Equal(0, s.broadcaster.ClientCount())
}

func (s *BroadcasterSuite) TestAddClient() {
	client, err := s.broadcaster.AddClient(newMockResponseWriter())
	s.NoError(err)
	s.NotNil(client)
	s.Len(client.ID, 36)
	s.NotNil(client.Done)
	s.Equal(1, s.broadcaster.ClientCount())
}

func (s *BroadcasterSuite) TestAddClient_RequiresFlusher() {
	_, err := s.broadcaster.AddClient(noFlushWriter{})
	s.Error(err)
	s.Equal(0, s.broadcaster.ClientCount())
}

func (s *BroadcasterSuite) TestRemoveClient() {
	client, err := s.broadcaster.AddClient(newMockResponseWriter())
	s.Require().NoError(err)

	s.broadcaster.RemoveClient(client)
	s.Equal(0, s.broadcaster.ClientCount())

	select {
	case <-client.Done:
	default:
		s.Fail("Done channel should be closed")
	}

	// Removing twice is safe.
	s.NotPanics(func() { s.broadcaster.RemoveClient(client) })
}

func (s *BroadcasterSuite) TestBroadcast() {
	w := newMockResponseWriter()
	_, err := s.broadcaster.AddClient(w)
	s.Require().NoError(err)

	s.broadcaster.Broadcast("session_saved", map[string]string{"date": "2026-03-15"})

	body := w.Body()
	s.Contains(body, "id: 1\n")
	s.Contains(body, "event: session_saved\n")
	s.Contains(body, `data: {"date":"2026-03-15"}`)
	s.True(strings.HasSuffix(body, "\n\n"))
}

func (s *BroadcasterSuite) TestBroadcastIDsIncrease() {
	w := newMockResponseWriter()
	_, err := s.broadcaster.AddClient(w)
	s.Require().NoError(err)

	s.broadcaster.Broadcast("a", 1)
	s.broadcaster.Broadcast("b", 2)

	body := w.Body()
	s.Contains(body, "id: 1\nevent: a\n")
	s.Contains(body, "id: 2\nevent: b\n")
}

func (s *BroadcasterSuite) TestBroadcastNoClients() {
	s.NotPanics(func() { s.broadcaster.Broadcast("retention_ran", nil) })
}

func (s *BroadcasterSuite) TestBroadcastMultipleClients() {
	writers := make([]*mockResponseWriter, 3)
	for i := range writers {
		writers[i] = newMockResponseWriter()
		_, err := s.broadcaster.AddClient(writers[i])
		s.Require().NoError(err)
	}

	s.broadcaster.Broadcast("sessions_cleared", map[string]string{"date": "2026-03-15"})

	for i, w := range writers {
		s.Contains(w.Body(), "event: sessions_cleared", "Client %d should receive data", i)
	}
}

func (s *BroadcasterSuite) TestBroadcastDropsFailingClient() {
	good := newMockResponseWriter()
	bad := newMockResponseWriter()
	bad.failWith = errors.New("broken pipe")

	_, err := s.broadcaster.AddClient(good)
	s.Require().NoError(err)
	badClient, err := s.broadcaster.AddClient(bad)
	s.Require().NoError(err)

	s.broadcaster.Broadcast("session_saved", map[string]int{"n": 1})

	s.Equal(1, s.broadcaster.ClientCount())
	select {
	case <-badClient.Done:
	default:
		s.Fail("failing client should be closed")
	}
}

func (s *BroadcasterSuite) TestBroadcastUnmarshalable() {
	w := newMockResponseWriter()
	_, err := s.broadcaster.AddClient(w)
	s.Require().NoError(err)

	s.broadcaster.Broadcast("bad", failingPayload{})
	s.Empty(w.Body())
}

func TestClientUniqueIDs(t *testing.T) {
	b := NewBroadcaster()
	ids := make(map[string]bool)

	for i := 0; i < 100; i++ {
		client, err := b.AddClient(newMockResponseWriter())
		require.NoError(t, err)

		assert.False(t, ids[client.ID], "ID %s should be unique", client.ID)
		ids[client.ID] = true
	}
}

func TestConcurrentBroadcast(t *testing.T) {
	b := NewBroadcaster()

	writers := make([]*mockResponseWriter, 10)
	for i := range writers {
		writers[i] = newMockResponseWriter()
		_, err := b.AddClient(writers[i])
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Broadcast("session_saved", map[string]int{"index": i})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, b.ClientCount())
	// Frames never interleave: every frame is intact.
	for _, w := range writers {
		assert.Equal(t, 100, strings.Count(w.Body(), "event: session_saved\ndata: {\"index\":"))
	}
}

func TestHandleSSE(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(http.HandlerFunc(b.HandleSSE))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readLine := func() string {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		return strings.TrimRight(line, "\n")
	}

	assert.Equal(t, "event: connected", readLine())
	assert.Contains(t, readLine(), `"clientId"`)
	assert.Equal(t, "", readLine())

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	b.Broadcast("session_saved", map[string]string{"date": "2026-03-15"})
	assert.Equal(t, "id: 1", readLine())
	assert.Equal(t, "event: session_saved", readLine())
	assert.Equal(t, `data: {"date":"2026-03-15"}`, readLine())

	cancel()
	require.Eventually(t, func() bool { return b.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
