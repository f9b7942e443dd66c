package audio

import (
	"errors"
	"fmt"
)

// ErrBadFrame is returned for input the transcoder cannot interpret.
// Callers log it and drop the frame; isolated frame loss is acceptable in
// live audio but a stopped pipeline is not.
var ErrBadFrame = errors.New("audio: malformed frame")

// FrameAssembler buffers incoming bytes and emits fixed-size frames.
// Partial input is held and combined with the next arrival, never dropped.
type FrameAssembler struct {
	buf        []byte
	frameBytes int
}

// NewFrameAssembler creates an assembler emitting frames of frameBytes bytes.
func NewFrameAssembler(frameBytes int) *FrameAssembler {
	if frameBytes <= 0 {
		frameBytes = 1
	}
	return &FrameAssembler{frameBytes: frameBytes}
}

// Add appends data and returns all complete frames now available.
func (a *FrameAssembler) Add(data []byte) [][]byte {
	a.buf = append(a.buf, data...)
	var frames [][]byte
	for len(a.buf) >= a.frameBytes {
		frame := make([]byte, a.frameBytes)
		copy(frame, a.buf[:a.frameBytes])
		frames = append(frames, frame)
		a.buf = a.buf[a.frameBytes:]
	}
	return frames
}

// Flush returns whatever partial frame is pending and resets the assembler.
func (a *FrameAssembler) Flush() []byte {
	if len(a.buf) == 0 {
		return nil
	}
	out := make([]byte, len(a.buf))
	copy(out, a.buf)
	a.buf = a.buf[:0]
	return out
}

// Pending returns the number of buffered bytes not yet emitted.
func (a *FrameAssembler) Pending() int { return len(a.buf) }

// Transcoder converts audio between the carrier format and the agent format.
// The carrier delivers small (~20ms) frames; the agent side wants larger
// units (100–200ms) to keep message overhead down without hurting latency,
// so inbound audio is aggregated before it is handed to the caller.
type Transcoder struct {
	carrier Format
	agent   Format

	toAgentAsm   *FrameAssembler
	toCarrierAsm *FrameAssembler
}

// NewTranscoder creates a transcoder between the two formats, aggregating
// converted audio into chunkMs-sized units in each direction.
func NewTranscoder(carrier, agent Format, chunkMs int) (*Transcoder, error) {
	if !carrier.Valid() {
		return nil, fmt.Errorf("audio: invalid carrier format %+v", carrier)
	}
	if !agent.Valid() {
		return nil, fmt.Errorf("audio: invalid agent format %+v", agent)
	}
	if chunkMs <= 0 {
		chunkMs = 120
	}
	return &Transcoder{
		carrier:      carrier,
		agent:        agent,
		toAgentAsm:   NewFrameAssembler(agent.BytesForDurationMs(chunkMs)),
		toCarrierAsm: NewFrameAssembler(carrier.BytesForDurationMs(chunkMs)),
	}, nil
}

// ToAgentFormat converts one carrier frame and returns zero or more
// agent-format chunks. Partial chunks are buffered for the next call.
func (t *Transcoder) ToAgentFormat(frame []byte) ([][]byte, error) {
	if len(frame) == 0 {
		return nil, ErrBadFrame
	}
	pcm, err := t.decode(t.carrier, frame)
	if err != nil {
		return nil, err
	}
	pcm = Resample(pcm, t.carrier.SampleRateHz, t.agent.SampleRateHz)
	out, err := t.encode(t.agent, pcm)
	if err != nil {
		return nil, err
	}
	return t.toAgentAsm.Add(out), nil
}

// ToCarrierFormat converts one agent chunk and returns zero or more
// carrier-format frames.
func (t *Transcoder) ToCarrierFormat(chunk []byte) ([][]byte, error) {
	if len(chunk) == 0 {
		return nil, ErrBadFrame
	}
	pcm, err := t.decode(t.agent, chunk)
	if err != nil {
		return nil, err
	}
	pcm = Resample(pcm, t.agent.SampleRateHz, t.carrier.SampleRateHz)
	out, err := t.encode(t.carrier, pcm)
	if err != nil {
		return nil, err
	}
	return t.toCarrierAsm.Add(out), nil
}

// FlushToCarrier drains any partial carrier frame, used at end of an
// agent utterance so the tail is not stuck in the assembler.
func (t *Transcoder) FlushToCarrier() []byte { return t.toCarrierAsm.Flush() }

// FlushToAgent drains any partial agent chunk.
func (t *Transcoder) FlushToAgent() []byte { return t.toAgentAsm.Flush() }

// decode returns PCM16 for data in the given format.
func (t *Transcoder) decode(f Format, data []byte) ([]byte, error) {
	switch f.Encoding {
	case EncodingMulaw:
		return DecodeMulaw(data), nil
	case EncodingPCM16:
		if len(data)%2 != 0 {
			return nil, ErrBadFrame
		}
		return data, nil
	default:
		return nil, ErrBadFrame
	}
}

// encode converts PCM16 to the given format.
func (t *Transcoder) encode(f Format, pcm []byte) ([]byte, error) {
	switch f.Encoding {
	case EncodingMulaw:
		return EncodeMulaw(pcm), nil
	case EncodingPCM16:
		return pcm, nil
	default:
		return nil, ErrBadFrame
	}
}
