// Package syncproto implements the wire protocol for the resumable bulk
// pull and mutation push/pull exchange (spec §4.9, §4.10): a tagged
// frame format over any io.Reader/io.Writer, and the columnar batch
// encoding carried inside binary frames.
package syncproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameTag identifies the kind of payload a frame carries.
type FrameTag byte

const (
	TagString FrameTag = 0x01
	TagBinary FrameTag = 0x02
	TagEnd    FrameTag = 0xFF
)

// Frame is one unit of the bulk-pull stream: a 1-byte tag followed (for
// TagString/TagBinary) by a 4-byte little-endian length prefix and that
// many payload bytes. TagEnd carries no length prefix or payload.
type Frame struct {
	Tag     FrameTag
	Payload []byte
}

// WriteFrame serializes f to w.
func WriteFrame(w io.Writer, f Frame) error {
	if _, err := w.Write([]byte{byte(f.Tag)}); err != nil {
		return fmt.Errorf("syncproto: write tag: %w", err)
	}
	if f.Tag == TagEnd {
		return nil
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(f.Payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("syncproto: write length: %w", err)
	}
	if _, err := w.Write(f.Payload); err != nil {
		return fmt.Errorf("syncproto: write payload: %w", err)
	}
	return nil
}

// ReadFrame deserializes the next Frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var tagBuf [1]byte
	if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
		return Frame{}, err
	}
	tag := FrameTag(tagBuf[0])
	if tag == TagEnd {
		return Frame{Tag: TagEnd}, nil
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, fmt.Errorf("syncproto: read length: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("syncproto: read payload: %w", err)
	}
	return Frame{Tag: tag, Payload: payload}, nil
}

// WriteString writes a TagString frame carrying s.
func WriteString(w io.Writer, s string) error {
	return WriteFrame(w, Frame{Tag: TagString, Payload: []byte(s)})
}

// WriteEnd writes the terminal TagEnd frame.
func WriteEnd(w io.Writer) error {
	return WriteFrame(w, Frame{Tag: TagEnd})
}
