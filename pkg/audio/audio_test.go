package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulawRoundTrip(t *testing.T) {
	for _, sample := range []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000} {
		enc := EncodeMulawSample(sample)
		dec := DecodeMulawSample(enc)

		diff := int32(sample) - int32(dec)
		if diff < 0 {
			diff = -diff
		}
		// µ-law quantization error grows with amplitude; the top segment
		// steps are the coarsest.
		assert.LessOrEqual(t, diff, int32(1024), "sample %d decoded to %d", sample, dec)
	}
}

func TestMulawSliceLengths(t *testing.T) {
	mulaw := []byte{0x00, 0x7F, 0x80, 0xFF}
	pcm := DecodeMulaw(mulaw)
	require.Len(t, pcm, len(mulaw)*2)

	back := EncodeMulaw(pcm)
	require.Len(t, back, len(mulaw))
}

func TestResampleDoublesRate(t *testing.T) {
	// 10 samples of a constant signal at 8kHz.
	pcm := make([]byte, 20)
	for i := 0; i < 10; i++ {
		pcm[i*2] = 0xE8 // 1000 little-endian
		pcm[i*2+1] = 0x03
	}
	out := Resample(pcm, 8000, 16000)
	require.Len(t, out, 40)
	for i := 0; i+1 < len(out); i += 2 {
		v := int16(out[i]) | int16(out[i+1])<<8
		assert.Equal(t, int16(1000), v)
	}
}

func TestResampleSameRateIsIdentity(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	assert.Equal(t, pcm, Resample(pcm, 8000, 8000))
}

func TestFrameAssembler(t *testing.T) {
	a := NewFrameAssembler(4)

	require.Empty(t, a.Add([]byte{1, 2}))
	assert.Equal(t, 2, a.Pending())

	frames := a.Add([]byte{3, 4, 5})
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, frames[0])
	assert.Equal(t, 1, a.Pending())

	tail := a.Flush()
	assert.Equal(t, []byte{5}, tail)
	assert.Zero(t, a.Pending())
	assert.Nil(t, a.Flush())
}

func TestTranscoderInboundAggregation(t *testing.T) {
	tc, err := NewTranscoder(CarrierDefault(), AgentDefault(), 120)
	require.NoError(t, err)

	// 20ms carrier frames: 160 µ-law bytes each. Six of them fill one
	// 120ms agent chunk (3840 bytes of PCM16 at 16kHz).
	frame := make([]byte, 160)
	for i := 0; i < 5; i++ {
		chunks, err := tc.ToAgentFormat(frame)
		require.NoError(t, err)
		assert.Empty(t, chunks, "chunk emitted too early on frame %d", i)
	}
	chunks, err := tc.ToAgentFormat(frame)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0], 3840)
}

func TestTranscoderOutbound(t *testing.T) {
	tc, err := NewTranscoder(CarrierDefault(), AgentDefault(), 100)
	require.NoError(t, err)

	// 200ms of agent audio converts to 200ms of carrier audio: two 100ms
	// carrier frames of 800 µ-law bytes.
	chunk := make([]byte, AgentDefault().BytesForDurationMs(200))
	frames, err := tc.ToCarrierFormat(chunk)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Len(t, frames[0], 800)
	assert.Nil(t, tc.FlushToCarrier())
}

func TestTranscoderRejectsBadInput(t *testing.T) {
	tc, err := NewTranscoder(CarrierDefault(), AgentDefault(), 120)
	require.NoError(t, err)

	_, err = tc.ToAgentFormat(nil)
	assert.ErrorIs(t, err, ErrBadFrame)

	// Odd-length PCM16 cannot be decoded.
	_, err = tc.ToCarrierFormat([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestTranscoderRejectsInvalidFormat(t *testing.T) {
	_, err := NewTranscoder(Format{Encoding: "opus", SampleRateHz: 48000, Channels: 1}, AgentDefault(), 120)
	assert.Error(t, err)
}

func TestFrameRingEvictsOldest(t *testing.T) {
	// µ-law 8kHz: 8 bytes per ms, so a 10ms ring holds 80 bytes.
	r := NewFrameRing(CarrierDefault(), 10)

	for i := 0; i < 5; i++ {
		r.Push([]byte{byte(i), 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	}
	assert.Equal(t, 5, r.Len())
	assert.Equal(t, 80, r.Bytes())
	assert.Zero(t, r.Dropped())

	r.Push([]byte{99, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	assert.Equal(t, 5, r.Len())
	assert.EqualValues(t, 1, r.Dropped())

	frames := r.Drain()
	require.Len(t, frames, 5)
	assert.Equal(t, byte(1), frames[0][0], "oldest frame should have been evicted")
	assert.Equal(t, byte(99), frames[4][0])
	assert.Zero(t, r.Len())
}

func TestFrameRingRejectsOversized(t *testing.T) {
	r := NewFrameRing(CarrierDefault(), 1) // 8 byte budget
	r.Push(make([]byte, 100))
	assert.Zero(t, r.Len())
}

func TestFormatMath(t *testing.T) {
	carrier := CarrierDefault()
	assert.Equal(t, 8000, carrier.BytesPerSecond())
	assert.Equal(t, 160, carrier.BytesForDurationMs(20))
	assert.Equal(t, 20, carrier.DurationMs(160))

	agent := AgentDefault()
	assert.Equal(t, 32000, agent.BytesPerSecond())
	assert.True(t, agent.Valid())
	assert.False(t, Format{Encoding: EncodingPCM16, SampleRateHz: 0, Channels: 1}.Valid())
	assert.False(t, Format{Encoding: EncodingPCM16, SampleRateHz: 16000, Channels: 2}.Valid())
}

func TestEnergySeparatesSilenceFromSpeech(t *testing.T) {
	silence := make([]byte, 160)
	for i := range silence {
		silence[i] = EncodeMulawSample(0)
	}
	assert.Less(t, Energy(CarrierDefault(), silence), 0.01)

	loud := make([]byte, 160)
	for i := range loud {
		loud[i] = EncodeMulawSample(20000)
	}
	assert.Greater(t, Energy(CarrierDefault(), loud), 0.5)

	pcm := make([]byte, 320)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = 0x00
		pcm[i+1] = 0x40 // 16384
	}
	assert.InDelta(t, 0.5, Energy(AgentDefault(), pcm), 0.01)

	assert.Zero(t, Energy(CarrierDefault(), nil))
}
