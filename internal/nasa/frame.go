package nasa

import (
	"encoding/binary"
	"fmt"
)

// Frame markers and limits.
const (
	// StartMarker opens every frame.
	StartMarker byte = 0x32

	// EndMarker closes every frame.
	EndMarker byte = 0x34

	// MaxFrameSize is the largest frame accepted by the decoder, markers included.
	MaxFrameSize = 1500

	// headerLen covers start(1) + size(2) + src(3) + dst(3) + info(1) + type(1) + packetNo(1) + count(1).
	headerLen = 13

	// trailerLen covers crc(2) + end(1).
	trailerLen = 3

	// minFrameLen is a frame with no fields.
	minFrameLen = headerLen + trailerLen

	// maxFields is the largest field count representable in the count byte.
	maxFields = 255

	// protocolVersion is written into the packet information byte.
	protocolVersion = 2

	// maxRetry is the largest retry counter representable on the wire.
	maxRetry = 3
)

// PacketType is the high nibble of the frame type byte.
type PacketType uint8

// Packet types.
const (
	PacketStandBy   PacketType = 0
	PacketNormal    PacketType = 1
	PacketGathering PacketType = 2
	PacketInstall   PacketType = 3
	PacketDownload  PacketType = 4
)

func (p PacketType) String() string {
	switch p {
	case PacketStandBy:
		return "standby"
	case PacketNormal:
		return "normal"
	case PacketGathering:
		return "gathering"
	case PacketInstall:
		return "install"
	case PacketDownload:
		return "download"
	default:
		return fmt.Sprintf("packet_type_%d", uint8(p))
	}
}

// dataType is the low nibble of the frame type byte.
type dataType uint8

const (
	dataUndefined    dataType = 0
	dataRead         dataType = 1
	dataWrite        dataType = 2
	dataRequest      dataType = 3
	dataNotification dataType = 4
	dataResponse     dataType = 5
	dataAck          dataType = 6
	dataNack         dataType = 7
)

// MessageClass classifies a message by its role in the request/reply flow.
type MessageClass uint8

// Message classes.
const (
	ClassNormal MessageClass = iota
	ClassReadRequest
	ClassReadResponse
	ClassWriteRequest
	ClassWriteResponse
	ClassNotification
	ClassNack
)

func (c MessageClass) String() string {
	switch c {
	case ClassNormal:
		return "normal"
	case ClassReadRequest:
		return "read_request"
	case ClassReadResponse:
		return "read_response"
	case ClassWriteRequest:
		return "write_request"
	case ClassWriteResponse:
		return "write_response"
	case ClassNotification:
		return "notification"
	case ClassNack:
		return "nack"
	default:
		return fmt.Sprintf("class_%d", uint8(c))
	}
}

// ReplyClass returns the class a device answers a request with.
// Non-request classes return themselves.
func (c MessageClass) ReplyClass() MessageClass {
	switch c {
	case ClassReadRequest:
		return ClassReadResponse
	case ClassWriteRequest:
		return ClassWriteResponse
	default:
		return c
	}
}

func (c MessageClass) dataType() (dataType, error) {
	switch c {
	case ClassNormal:
		return dataUndefined, nil
	case ClassReadRequest:
		return dataRead, nil
	case ClassReadResponse:
		return dataResponse, nil
	case ClassWriteRequest:
		return dataWrite, nil
	case ClassWriteResponse:
		return dataAck, nil
	case ClassNotification:
		return dataNotification, nil
	case ClassNack:
		return dataNack, nil
	default:
		return 0, fmt.Errorf("%w: message class %d", ErrInvalidValue, uint8(c))
	}
}

func classFromDataType(dt dataType) (MessageClass, bool) {
	switch dt {
	case dataUndefined, dataRequest:
		return ClassNormal, true
	case dataRead:
		return ClassReadRequest, true
	case dataResponse:
		return ClassReadResponse, true
	case dataWrite:
		return ClassWriteRequest, true
	case dataAck:
		return ClassWriteResponse, true
	case dataNotification:
		return ClassNotification, true
	case dataNack:
		return ClassNack, true
	default:
		return 0, false
	}
}

// Field is a single (attribute id, raw value) pair carried by a message.
// Raw holds the big-endian wire bytes; its length is fixed by the id except
// for structure attributes.
type Field struct {
	ID  AttributeID
	Raw []byte
}

// Message is a decoded NASA frame.
type Message struct {
	Source       Address
	Destination  Address
	Class        MessageClass
	PacketType   PacketType
	PacketNumber uint8
	Retry        uint8
	Fields       []Field

	// ChecksumValid is true for every frame whose CRC matched.
	// Messages yielded together with a FramingError carry false.
	ChecksumValid bool
}

// Field returns the first field with the given id.
func (m Message) Field(id AttributeID) (Field, bool) {
	for _, f := range m.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// Encode serialises a message into a complete frame.
//
// Encoding is deterministic: identical logical messages always produce
// byte-identical frames. The ChecksumValid flag is ignored.
//
// Returns:
//   - []byte: Frame including start/end markers and CRC
//   - error: ErrInvalidValue if a field does not fit its attribute id
func Encode(m Message) ([]byte, error) {
	dt, err := m.Class.dataType()
	if err != nil {
		return nil, err
	}
	if len(m.Fields) > maxFields {
		return nil, fmt.Errorf("%w: %d fields exceeds %d", ErrInvalidValue, len(m.Fields), maxFields)
	}
	if m.Retry > maxRetry {
		return nil, fmt.Errorf("%w: retry %d exceeds %d", ErrInvalidValue, m.Retry, maxRetry)
	}
	if m.PacketType > 0x0F {
		return nil, fmt.Errorf("%w: packet type %d", ErrInvalidValue, m.PacketType)
	}

	bodyLen := 0
	for i, f := range m.Fields {
		size := f.ID.PayloadSize()
		if size == structurePayload {
			if i != len(m.Fields)-1 {
				return nil, fmt.Errorf("%w: structure %s must be the last field", ErrInvalidValue, f.ID)
			}
			size = len(f.Raw)
		}
		if len(f.Raw) != size {
			return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidValue, f.ID, size, len(f.Raw))
		}
		bodyLen += 2 + size
	}

	total := minFrameLen + bodyLen
	if total > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrInvalidValue, total, MaxFrameSize)
	}

	buf := make([]byte, 0, total)
	buf = append(buf, StartMarker)
	buf = binary.BigEndian.AppendUint16(buf, uint16(total-2)) //nolint:gosec // bounded by MaxFrameSize
	buf = m.Source.appendTo(buf)
	buf = m.Destination.appendTo(buf)
	buf = append(buf,
		0x80|protocolVersion<<5|m.Retry<<3,
		byte(m.PacketType)<<4|byte(dt),
		m.PacketNumber,
		byte(len(m.Fields)),
	)
	for _, f := range m.Fields {
		buf = binary.BigEndian.AppendUint16(buf, uint16(f.ID))
		buf = append(buf, f.Raw...)
	}
	buf = binary.BigEndian.AppendUint16(buf, checksum(buf[3:]))
	buf = append(buf, EndMarker)

	return buf, nil
}

// parseFrame decodes a complete frame whose length has already been checked.
// On checksum failure the parsed message is still returned, with
// ChecksumValid false, alongside the error.
func parseFrame(frame []byte) (Message, error) {
	n := len(frame)
	if frame[0] != StartMarker || frame[n-1] != EndMarker {
		return Message{}, &FramingError{Err: ErrMalformedFrame, Detail: "missing start or end marker", Raw: cloneBytes(frame)}
	}

	want := binary.BigEndian.Uint16(frame[n-3 : n-1])
	got := checksum(frame[3 : n-3])
	crcOK := want == got

	msg, perr := parseBody(frame)
	if perr != nil {
		if !crcOK {
			return Message{}, &FramingError{
				Err:    ErrChecksum,
				Detail: fmt.Sprintf("expected 0x%04X, computed 0x%04X", want, got),
				Raw:    cloneBytes(frame),
			}
		}
		return Message{}, &FramingError{Err: ErrMalformedFrame, Detail: perr.Error(), Raw: cloneBytes(frame)}
	}

	if !crcOK {
		return msg, &FramingError{
			Err:    ErrChecksum,
			Detail: fmt.Sprintf("expected 0x%04X, computed 0x%04X", want, got),
			Raw:    cloneBytes(frame),
		}
	}

	msg.ChecksumValid = true
	return msg, nil
}

func parseBody(frame []byte) (Message, error) {
	typ := frame[10]
	class, ok := classFromDataType(dataType(typ & 0x0F))
	if !ok {
		return Message{}, fmt.Errorf("unknown data type %d", typ&0x0F)
	}

	msg := Message{
		Source:       addressFromBytes(frame[3:6]),
		Destination:  addressFromBytes(frame[6:9]),
		Retry:        (frame[9] >> 3) & maxRetry,
		PacketType:   PacketType(typ >> 4),
		Class:        class,
		PacketNumber: frame[11],
	}

	count := int(frame[12])
	body := frame[headerLen : len(frame)-trailerLen]
	if count > 0 {
		msg.Fields = make([]Field, 0, count)
	}

	for i := range count {
		if len(body) < 2 {
			return Message{}, fmt.Errorf("field %d of %d truncated", i+1, count)
		}
		id := AttributeID(binary.BigEndian.Uint16(body))
		body = body[2:]

		size := id.PayloadSize()
		if size == structurePayload {
			if i != count-1 {
				return Message{}, fmt.Errorf("structure %s is not the last field", id)
			}
			size = len(body)
		}
		if len(body) < size {
			return Message{}, fmt.Errorf("field %s needs %d bytes, %d left", id, size, len(body))
		}

		msg.Fields = append(msg.Fields, Field{ID: id, Raw: cloneBytes(body[:size])})
		body = body[size:]
	}

	if len(body) != 0 {
		return Message{}, fmt.Errorf("%d trailing bytes after %d fields", len(body), count)
	}

	return msg, nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
