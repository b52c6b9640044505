package camera

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFrame(t *testing.T, w io.Writer, payload []byte) {
	t.Helper()
	var lens [4]byte
	binary.BigEndian.PutUint32(lens[:], uint32(len(payload)))
	_, err := w.Write(lens[:])
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
}

func TestVideoStream_ReadFrames(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		writeFrame(t, server, []byte("frame-one"))
		writeFrame(t, server, []byte("frame-two"))
		server.Close()
	}()

	s := NewVideoStream(client)
	f1, err := s.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("frame-one"), f1)

	f2, err := s.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("frame-two"), f2)

	_, err = s.ReadFrame()
	assert.Error(t, err)
}

func TestVideoStream_ZeroLengthRejected(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		var lens [4]byte
		server.Write(lens[:])
	}()

	s := NewVideoStream(client)
	_, err := s.ReadFrame()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad frame length")
}

func TestVideoStream_OversizedLengthRejected(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		var lens [4]byte
		binary.BigEndian.PutUint32(lens[:], MaxFrameSize+1)
		server.Write(lens[:])
	}()

	s := NewVideoStream(client)
	_, err := s.ReadFrame()
	assert.Error(t, err)
}

func TestVideoStream_TruncatedPayloadErrors(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		var lens [4]byte
		binary.BigEndian.PutUint32(lens[:], 100)
		server.Write(lens[:])
		server.Write([]byte("short"))
		server.Close()
	}()

	s := NewVideoStream(client)
	_, err := s.ReadFrame()
	assert.Error(t, err)
}

func TestControlClient_StartStop(t *testing.T) {
	var starts, stops int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		switch r.URL.Path {
		case "/start":
			starts++
			json.NewEncoder(w).Encode(map[string]string{"message": "Recording started"})
		case "/stop":
			stops++
			json.NewEncoder(w).Encode(map[string]string{"message": "Recording stopped"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewControlClient(srv.URL, time.Second)
	ctx := context.Background()
	require.NoError(t, c.StartRecording(ctx))
	require.NoError(t, c.StopRecording(ctx))
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestControlClient_BadRequestIsAlreadyInState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "Already recording"})
	}))
	defer srv.Close()

	c := NewControlClient(srv.URL, time.Second)
	assert.NoError(t, c.StartRecording(context.Background()))
}

func TestControlClient_RetriesOnServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewControlClient(srv.URL, time.Second)
	assert.NoError(t, c.StartRecording(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestControlClient_GivesUpAfterTwoAttempts(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewControlClient(srv.URL, time.Second)
	assert.Error(t, c.StartRecording(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestControlClient_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status", r.URL.Path)
		json.NewEncoder(w).Encode(Status{Recording: true, Filename: "rec_001.avi", DurationSeconds: 12.5, Frames: 375})
	}))
	defer srv.Close()

	c := NewControlClient(srv.URL, time.Second)
	s, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Recording)
	assert.Equal(t, "rec_001.avi", s.Filename)
	assert.Equal(t, 375, s.Frames)
}

func TestControlClient_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	c := NewControlClient(srv.URL, time.Second)
	assert.True(t, c.Healthy(context.Background()))

	srv.Close()
	assert.False(t, c.Healthy(context.Background()))
}
