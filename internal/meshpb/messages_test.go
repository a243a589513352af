package meshpb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeshPacketRoundTrip(t *testing.T) {
	pkt := &MeshPacket{
		From:     0x1234,
		To:       0xABCD,
		Channel:  0,
		ID:       0xDEADBEEF,
		HopLimit: 3,
		WantAck:  true,
		Priority: 70,
		Decoded: &Data{
			PortNum:   PortTextMessage,
			Payload:   []byte("hi"),
			RequestID: 1,
		},
	}

	got := &MeshPacket{}
	require.NoError(t, got.Unmarshal(pkt.Marshal()))

	assert.Equal(t, pkt.From, got.From)
	assert.Equal(t, pkt.To, got.To)
	assert.Equal(t, pkt.ID, got.ID)
	assert.Equal(t, pkt.HopLimit, got.HopLimit)
	assert.True(t, got.WantAck)
	assert.Equal(t, pkt.Priority, got.Priority)
	require.NotNil(t, got.Decoded)
	assert.Equal(t, PortTextMessage, got.Decoded.PortNum)
	assert.Equal(t, "hi", string(got.Decoded.Payload))
}

func TestToRadioWantConfigIDRoundTrip(t *testing.T) {
	tr := &ToRadio{WantConfigID: 0xC0FFEE}
	got := &ToRadio{}
	require.NoError(t, got.Unmarshal(tr.Marshal()))
	assert.Equal(t, tr.WantConfigID, got.WantConfigID)
	assert.Nil(t, got.Packet)
}

func TestFromRadioUnknownFieldIsSkipped(t *testing.T) {
	// Field 99, varint type, should be silently skipped rather than erroring.
	my := &MyInfo{MyNodeNum: 7}
	var payload []byte
	payload = appendUvarintField(payload, 1, uint64(my.MyNodeNum))

	var b []byte
	b = appendMessageField(b, 3, payload)
	b = appendUvarintField(b, 99, 123)

	fr := &FromRadio{}
	require.NoError(t, fr.Unmarshal(b))
	require.NotNil(t, fr.MyInfo)
	assert.EqualValues(t, 7, fr.MyInfo.MyNodeNum)
}

func TestRoutingErrorTransient(t *testing.T) {
	assert.True(t, RoutingErrorRateLimitExceeded.Transient())
	assert.True(t, RoutingErrorDutyCycleLimit.Transient())
	assert.True(t, RoutingErrorTimeout.Transient())
	assert.False(t, RoutingErrorNoRoute.Transient())
	assert.False(t, RoutingErrorDestinationRefused.Transient())
}
