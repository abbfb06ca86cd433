package models

import (
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTransport() *Transport {
	return &Transport{
		ClientRTPPort:  40000,
		ClientRTCPPort: 40001,
		ServerRTPPort:  5000,
		ServerRTCPPort: 5001,
		ClientAddr:     &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000},
	}
}

func TestNewSessionStartsInInit(t *testing.T) {
	s := NewSession("rtsp://localhost:8554/stream", 96)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, SessionStateInit, s.State())
	assert.Nil(t, s.Transport())
	assert.False(t, s.IsPlaying())
}

func TestSessionIDsUnique(t *testing.T) {
	a := NewSession("rtsp://localhost/stream", 96)
	b := NewSession("rtsp://localhost/stream", 96)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestFullLifecycle(t *testing.T) {
	s := NewSession("rtsp://localhost/stream", 96)

	require.NoError(t, s.SetTransport(testTransport()))
	assert.Equal(t, SessionStateReady, s.State())
	assert.NotNil(t, s.Transport())

	require.NoError(t, s.Play())
	assert.Equal(t, SessionStatePlaying, s.State())
	assert.True(t, s.IsPlaying())

	require.NoError(t, s.Pause())
	assert.Equal(t, SessionStatePaused, s.State())

	require.NoError(t, s.Play())
	assert.Equal(t, SessionStatePlaying, s.State())

	s.TearDown()
	assert.Equal(t, SessionStateTornDown, s.State())
	assert.Nil(t, s.Transport(), "transport released on teardown")
}

func TestIllegalTransitionsLeaveStateUnchanged(t *testing.T) {
	t.Run("play before setup", func(t *testing.T) {
		s := NewSession("rtsp://localhost/stream", 96)
		err := s.Play()
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, SessionStateInit, s.State())
	})

	t.Run("pause before setup", func(t *testing.T) {
		s := NewSession("rtsp://localhost/stream", 96)
		err := s.Pause()
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, SessionStateInit, s.State())
	})

	t.Run("pause from ready", func(t *testing.T) {
		s := NewSession("rtsp://localhost/stream", 96)
		require.NoError(t, s.SetTransport(testTransport()))
		err := s.Pause()
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, SessionStateReady, s.State())
	})

	t.Run("double setup", func(t *testing.T) {
		s := NewSession("rtsp://localhost/stream", 96)
		require.NoError(t, s.SetTransport(testTransport()))
		err := s.SetTransport(testTransport())
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, SessionStateReady, s.State())
	})
}

func TestTearDownIsTerminal(t *testing.T) {
	s := NewSession("rtsp://localhost/stream", 96)
	require.NoError(t, s.SetTransport(testTransport()))
	s.TearDown()

	assert.ErrorIs(t, s.Play(), ErrInvalidTransition)
	assert.ErrorIs(t, s.Pause(), ErrInvalidTransition)
	assert.ErrorIs(t, s.SetTransport(testTransport()), ErrInvalidTransition)
	assert.Equal(t, SessionStateTornDown, s.State())

	// idempotent
	s.TearDown()
	assert.Equal(t, SessionStateTornDown, s.State())
}

func TestHeaderValue(t *testing.T) {
	s := NewSession("rtsp://localhost/stream", 96)
	header := s.HeaderValue()
	assert.True(t, strings.HasPrefix(header, s.ID+";timeout="))
	assert.True(t, strings.HasSuffix(header, ";timeout=60"))
}

func accessUnitNALs() [][]byte {
	return [][]byte{{0x65, 0x01, 0x02, 0x03}}
}

func TestDeliverSendsToClientEndpoint(t *testing.T) {
	s := NewSession("rtsp://localhost/stream", 96)
	require.NoError(t, s.SetTransport(testTransport()))
	require.NoError(t, s.Play())

	var gotPayloads [][]byte
	var gotAddr *net.UDPAddr
	sent, bytes, err := s.Deliver(accessUnitNALs(), 3000, 1400, func(payload []byte, addr *net.UDPAddr) error {
		gotPayloads = append(gotPayloads, payload)
		gotAddr = addr
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 16, bytes, "12-byte RTP header plus 4-byte payload")
	require.Len(t, gotPayloads, 1)
	assert.Equal(t, 40000, gotAddr.Port)
}

func TestDeliverSkipsNonPlayingSession(t *testing.T) {
	s := NewSession("rtsp://localhost/stream", 96)
	require.NoError(t, s.SetTransport(testTransport()))

	sent, _, err := s.Deliver(accessUnitNALs(), 3000, 1400, func([]byte, *net.UDPAddr) error {
		t.Fatal("send must not be called for a ready session")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, uint32(0), s.PacketizerState().Timestamp(), "skipped delivery does not advance state")
}

func TestDeliverPropagatesSendError(t *testing.T) {
	s := NewSession("rtsp://localhost/stream", 96)
	require.NoError(t, s.SetTransport(testTransport()))
	require.NoError(t, s.Play())

	sendErr := errors.New("network unreachable")
	sent, _, err := s.Deliver(accessUnitNALs(), 3000, 1400, func([]byte, *net.UDPAddr) error {
		return sendErr
	})
	assert.ErrorIs(t, err, sendErr)
	assert.Equal(t, 0, sent)
}

func TestTearDownWaitsForInFlightDelivery(t *testing.T) {
	s := NewSession("rtsp://localhost/stream", 96)
	require.NoError(t, s.SetTransport(testTransport()))
	require.NoError(t, s.Play())

	entered := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, err := s.Deliver(accessUnitNALs(), 3000, 1400, func([]byte, *net.UDPAddr) error {
			close(entered)
			<-release
			return nil
		})
		assert.NoError(t, err)
	}()

	<-entered
	done := make(chan struct{})
	go func() {
		s.TearDown()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("teardown completed while a delivery was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-done
	wg.Wait()
	assert.Equal(t, SessionStateTornDown, s.State())
}
