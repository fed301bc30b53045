package split

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// maxFrameBytes bounds one framed message. Large tensors are chunked by
// the sender well below this.
const maxFrameBytes = 1 << 32

// WriteMessage gob-encodes the message and writes it as one
// length-prefixed frame: u64 big-endian payload size, then the payload.
func WriteMessage(w io.Writer, msg *Message) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return err
	}
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], uint64(buf.Len()))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadMessage reads one length-prefixed frame and decodes the message.
func ReadMessage(r io.Reader) (*Message, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint64(header[:])
	if size > maxFrameBytes {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrClientProtocol, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	msg := new(Message)
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientProtocol, err)
	}
	return msg, nil
}
