package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's payload. A well-formed peer never
// sends a Msg anywhere near this size; it exists to keep a corrupt or
// hostile length prefix from triggering an unbounded allocation.
const MaxFrameSize = 64 << 20 // 64 MiB

// Encoder writes length-delimited JSON frames, mirroring the original
// agent's tokio_util::codec::LengthDelimitedCodec framing: a 4-byte
// big-endian length prefix followed by that many bytes of JSON.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) Encode(m Msg) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("wire: encode: marshal: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("wire: encode: frame of %d bytes exceeds max %d", len(payload), MaxFrameSize)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := e.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("wire: encode: write length prefix: %w", err)
	}
	if _, err := e.w.Write(payload); err != nil {
		return fmt.Errorf("wire: encode: write payload: %w", err)
	}
	return nil
}

// Decoder reads length-delimited JSON frames written by Encoder.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4096)}
}

func (d *Decoder) Decode() (Msg, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(d.r, prefix[:]); err != nil {
		return Msg{}, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		return Msg{}, fmt.Errorf("wire: decode: frame of %d bytes exceeds max %d", n, MaxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return Msg{}, fmt.Errorf("wire: decode: read payload: %w", err)
	}
	var m Msg
	if err := json.Unmarshal(payload, &m); err != nil {
		return Msg{}, fmt.Errorf("wire: decode: unmarshal: %w", err)
	}
	return m, nil
}
