package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"mq-rpc/message"
)

// Envelope kinds, the first byte of every binary body.
const (
	kindRequest  byte = 0x01
	kindResponse byte = 0x02
)

// BinaryCodec is a length-prefixed encoding of Request and Response.
//
//	request:  kind(1) | actionLen(2) | action | payloadLen(4) | payload
//	response: kind(1) | status(1)    | resultLen(4) | result | errLen(4) | err
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	switch msg := v.(type) {
	case *message.Request:
		return encodeRequest(msg), nil
	case *message.Response:
		return encodeResponse(msg)
	}
	return nil, errors.New("BinaryCodec: v must be *message.Request or *message.Response")
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	r := &reader{data: data}
	kind, err := r.byte()
	if err != nil {
		return err
	}

	switch msg := v.(type) {
	case *message.Request:
		if kind != kindRequest {
			return fmt.Errorf("BinaryCodec: expected request, got kind %#x", kind)
		}
		action, err := r.chunk(2)
		if err != nil {
			return err
		}
		payload, err := r.chunk(4)
		if err != nil {
			return err
		}
		msg.Action = message.Action(action)
		msg.Payload = payload
		return nil
	case *message.Response:
		if kind != kindResponse {
			return fmt.Errorf("BinaryCodec: expected response, got kind %#x", kind)
		}
		status, err := r.byte()
		if err != nil {
			return err
		}
		result, err := r.chunk(4)
		if err != nil {
			return err
		}
		errMsg, err := r.chunk(4)
		if err != nil {
			return err
		}
		switch status {
		case 0:
			msg.Status = message.StatusOK
		case 1:
			msg.Status = message.StatusError
		default:
			return fmt.Errorf("BinaryCodec: unknown status %d", status)
		}
		if len(result) > 0 {
			msg.Result = result
		}
		msg.Error = string(errMsg)
		return nil
	}
	return errors.New("BinaryCodec: v must be *message.Request or *message.Response")
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func (c *BinaryCodec) ContentType() string {
	return ContentTypeBinary
}

func encodeRequest(msg *message.Request) []byte {
	total := 1 + 2 + len(msg.Action) + 4 + len(msg.Payload)
	buf := make([]byte, total)

	offset := 0
	buf[offset] = kindRequest
	offset++

	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(msg.Action)))
	offset += 2
	copy(buf[offset:], msg.Action)
	offset += len(msg.Action)

	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(msg.Payload)))
	offset += 4
	copy(buf[offset:], msg.Payload)
	return buf
}

func encodeResponse(msg *message.Response) ([]byte, error) {
	var status byte
	switch msg.Status {
	case message.StatusOK:
		status = 0
	case message.StatusError:
		status = 1
	default:
		return nil, fmt.Errorf("BinaryCodec: unknown status %q", msg.Status)
	}

	total := 1 + 1 + 4 + len(msg.Result) + 4 + len(msg.Error)
	buf := make([]byte, total)

	offset := 0
	buf[offset] = kindResponse
	offset++
	buf[offset] = status
	offset++

	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(msg.Result)))
	offset += 4
	copy(buf[offset:], msg.Result)
	offset += len(msg.Result)

	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(msg.Error)))
	offset += 4
	copy(buf[offset:], msg.Error)
	return buf, nil
}

// reader walks a binary body with bounds checks, so truncated input is an
// error instead of a panic.
type reader struct {
	data   []byte
	offset int
}

var errShortBody = errors.New("BinaryCodec: body truncated")

func (r *reader) byte() (byte, error) {
	if r.offset >= len(r.data) {
		return 0, errShortBody
	}
	b := r.data[r.offset]
	r.offset++
	return b, nil
}

// chunk reads a length prefix of width 2 or 4 followed by that many bytes.
func (r *reader) chunk(width int) ([]byte, error) {
	if r.offset+width > len(r.data) {
		return nil, errShortBody
	}
	var n int
	if width == 2 {
		n = int(binary.BigEndian.Uint16(r.data[r.offset : r.offset+2]))
	} else {
		n = int(binary.BigEndian.Uint32(r.data[r.offset : r.offset+4]))
	}
	r.offset += width
	if n < 0 || r.offset+n > len(r.data) {
		return nil, errShortBody
	}
	out := make([]byte, n)
	copy(out, r.data[r.offset:r.offset+n])
	r.offset += n
	return out, nil
}
