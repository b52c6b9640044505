package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeControl_ProviderRegister(t *testing.T) {
	body := []byte(`{"provider_name":"alpha","connection_ip":"10.0.0.5","server_certification":"Zm9v","delete":false}`)
	msg, err := DecodeControl(CloudProviderConfigQueue, body)
	require.NoError(t, err)
	require.NotNil(t, msg.Provider)
	assert.Nil(t, msg.Suspicion)
	assert.Equal(t, "alpha", msg.Provider.ProviderName)
	assert.Equal(t, "10.0.0.5", msg.Provider.ConnectionIP)
	assert.False(t, msg.Provider.Delete)
}

func TestDecodeControl_ProviderDelete(t *testing.T) {
	body := []byte(`{"provider_name":"alpha","delete":true}`)
	msg, err := DecodeControl(CloudProviderConfigQueue, body)
	require.NoError(t, err)
	assert.True(t, msg.Provider.Delete)
}

func TestDecodeControl_MissingProviderName(t *testing.T) {
	_, err := DecodeControl(CloudProviderConfigQueue, []byte(`{"connection_ip":"10.0.0.5"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider_name")
}

func TestDecodeControl_Suspicion(t *testing.T) {
	body := []byte(`{"threshold":60,"class_weights":{"0":2.0,"7":1.1}}`)
	msg, err := DecodeControl(SuspicionConfigQueue, body)
	require.NoError(t, err)
	require.NotNil(t, msg.Suspicion)
	assert.Equal(t, 60, msg.Suspicion.Threshold)
	assert.Equal(t, 2.0, msg.Suspicion.ClassWeights["0"])
}

func TestDecodeControl_MalformedJSON(t *testing.T) {
	_, err := DecodeControl(SuspicionConfigQueue, []byte(`{broken`))
	assert.Error(t, err)
}

func TestDecodeControl_UnknownQueue(t *testing.T) {
	_, err := DecodeControl(FrameQueue, []byte(`{}`))
	assert.Error(t, err)
}

func TestSubjectIsLowercasedQueueName(t *testing.T) {
	assert.Equal(t, "suspicion_frame_queue", Subject(SuspicionFrameQueue))
	assert.Equal(t, "frame_queue", QueueSpec{Name: FrameQueue}.Subject())
}

func TestEdgeQueues_DefaultsAndOverrides(t *testing.T) {
	qs := EdgeQueues(0, 0, 0)
	byName := map[string]QueueSpec{}
	for _, q := range qs {
		byName[q.Name] = q
	}
	require.Len(t, byName, 6)
	assert.Equal(t, DefaultFrameTTL, byName[FrameQueue].TTL)
	assert.Equal(t, DefaultSuspicionTTL, byName[SuspicionFrameQueue].TTL)
	assert.Equal(t, DefaultResponseTTL, byName[ResponseQueue].TTL)
	// Control queues never expire.
	assert.Zero(t, byName[CloudProviderConfigQueue].TTL)
	assert.Zero(t, byName[RecordingStatusQueue].TTL)

	qs = EdgeQueues(250*time.Millisecond, 80*time.Millisecond, 2*time.Second)
	for _, q := range qs {
		switch q.Name {
		case FrameQueue:
			assert.Equal(t, 250*time.Millisecond, q.TTL)
		case SuspicionFrameQueue:
			assert.Equal(t, 80*time.Millisecond, q.TTL)
		case ResponseQueue:
			assert.Equal(t, 2*time.Second, q.TTL)
		}
	}
}
