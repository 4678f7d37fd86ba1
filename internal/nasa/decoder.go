package nasa

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"iter"
	"strings"
)

// ResyncStrategy decides how far the decoder advances after a bad frame.
type ResyncStrategy int

const (
	// ResyncNextStart skips the bad frame and scans for the next start marker.
	ResyncNextStart ResyncStrategy = iota

	// ResyncSkipN drops a fixed number of bytes before scanning again.
	ResyncSkipN
)

func (r ResyncStrategy) String() string {
	switch r {
	case ResyncNextStart:
		return "next_start"
	case ResyncSkipN:
		return "skip_n"
	default:
		return fmt.Sprintf("resync_%d", int(r))
	}
}

// ParseResyncStrategy parses "next_start" or "skip_n".
func ParseResyncStrategy(s string) (ResyncStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "next_start", "next-start":
		return ResyncNextStart, nil
	case "skip_n", "skip-n":
		return ResyncSkipN, nil
	default:
		return 0, fmt.Errorf("unknown resync strategy %q (use next_start or skip_n)", s)
	}
}

// DecoderConfig tunes the streaming decoder.
type DecoderConfig struct {
	// Resync selects the resynchronisation heuristic after a bad frame.
	// Default: ResyncNextStart.
	Resync ResyncStrategy

	// SkipN is the number of bytes dropped by ResyncSkipN.
	// Default: 1.
	SkipN int

	// MaxFrameSize bounds the declared frame length.
	// Default: MaxFrameSize.
	MaxFrameSize int
}

// DecoderStats holds decoder counters.
type DecoderStats struct {
	FramesDecoded uint64
	FramingErrors uint64
	BytesDropped  uint64
}

// Decoder is a streaming NASA frame parser.
//
// It keeps partial-frame state between calls, so bytes may be fed in arbitrary
// chunks as they arrive from the transport. Nothing is discarded on a partial
// read; only bytes proven not to start a valid frame are dropped.
//
// Thread Safety: a Decoder is not safe for concurrent use. The transport
// session owns exactly one per connection.
type Decoder struct {
	cfg   DecoderConfig
	buf   []byte
	stats DecoderStats
}

// NewDecoder creates a decoder with the given configuration.
func NewDecoder(cfg DecoderConfig) *Decoder {
	if cfg.SkipN <= 0 {
		cfg.SkipN = 1
	}
	if cfg.MaxFrameSize <= 0 || cfg.MaxFrameSize > MaxFrameSize {
		cfg.MaxFrameSize = MaxFrameSize
	}
	return &Decoder{cfg: cfg}
}

// Decode appends p to the pending stream and returns a lazy sequence of the
// frames it completes.
//
// Each element is either a valid Message with a nil error, or a *FramingError
// for a discarded frame. When the error is a checksum failure the Message
// carries whatever could be parsed, with ChecksumValid false; it must not be
// applied. The sequence is finite: it ends when the buffered bytes hold no
// further complete frame. Bytes not consumed by an abandoned iteration stay
// buffered for the next call.
func (d *Decoder) Decode(p []byte) iter.Seq2[Message, error] {
	d.buf = append(d.buf, p...)
	return func(yield func(Message, error) bool) {
		for {
			msg, err, ok := d.next()
			if !ok {
				return
			}
			if !yield(msg, err) {
				return
			}
		}
	}
}

// Feed is an eager form of Decode that collects every result.
func (d *Decoder) Feed(p []byte) (msgs []Message, errs []error) {
	for msg, err := range d.Decode(p) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, errs
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Stats returns decoder counters.
func (d *Decoder) Stats() DecoderStats {
	return d.stats
}

// Reset discards all buffered bytes. Called when a connection is replaced,
// since a partial frame never continues across connections.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// next extracts one result from the buffer. The boolean is false when more
// input is needed.
func (d *Decoder) next() (Message, error, bool) {
	for {
		start := bytes.IndexByte(d.buf, StartMarker)
		if start < 0 {
			d.drop(len(d.buf))
			return Message{}, nil, false
		}
		d.drop(start)

		if len(d.buf) < 3 {
			return Message{}, nil, false
		}

		total := declaredLen(d.buf)
		if total < minFrameLen || total > d.cfg.MaxFrameSize {
			fe := &FramingError{
				Err:    ErrMalformedFrame,
				Detail: fmt.Sprintf("declared length %d out of range", total),
				Raw:    cloneBytes(d.buf[:3]),
			}
			d.resync(0)
			d.stats.FramingErrors++
			return Message{}, fe, true
		}

		if len(d.buf) < headerLen {
			return Message{}, nil, false
		}

		// A start marker inside a payload rarely carries a sane header.
		if !plausibleHeader(d.buf) {
			d.drop(1)
			continue
		}

		if len(d.buf) < total {
			// The candidate may be a damaged frame whose length cannot be
			// trusted. Give it up once a complete valid frame follows it.
			if j := d.validFrameFrom(1, len(d.buf)); j > 0 {
				fe := &FramingError{
					Err:    ErrMalformedFrame,
					Detail: fmt.Sprintf("incomplete frame of declared length %d followed by a valid frame", total),
					Raw:    cloneBytes(d.buf[:j]),
				}
				d.drop(j)
				d.stats.FramingErrors++
				return Message{}, fe, true
			}
			return Message{}, nil, false
		}

		msg, err := parseFrame(d.buf[:total])
		if err != nil {
			d.resync(total)
			d.stats.FramingErrors++
			return msg, err, true
		}

		d.consume(total)
		d.stats.FramesDecoded++
		return msg, nil, true
	}
}

// declaredLen returns the full frame length announced by the size field of
// the frame starting at b[0]. b must hold at least 3 bytes.
func declaredLen(b []byte) int {
	return int(binary.BigEndian.Uint16(b[1:3])) + 2
}

// plausibleHeader reports whether b starts with a header this decoder could
// have produced: packet information flag set, protocol version 2, and known
// packet and data types. b must hold at least headerLen bytes.
func plausibleHeader(b []byte) bool {
	info, typ := b[9], b[10]
	if info&0x80 == 0 || (info>>5)&0x03 != protocolVersion {
		return false
	}
	return PacketType(typ>>4) <= PacketDownload && dataType(typ&0x0F) <= dataNack
}

// validFrameFrom returns the offset of the first start marker in
// d.buf[from:to] that opens a complete frame with a valid checksum, or -1.
// The frame itself may extend past to.
func (d *Decoder) validFrameFrom(from, to int) int {
	for i := from; i < to; i++ {
		if d.buf[i] != StartMarker {
			continue
		}
		rest := d.buf[i:]
		if len(rest) < minFrameLen {
			return -1
		}
		total := declaredLen(rest)
		if total < minFrameLen || total > d.cfg.MaxFrameSize || total > len(rest) {
			continue
		}
		if !plausibleHeader(rest) || rest[total-1] != EndMarker {
			continue
		}
		if _, err := parseFrame(rest[:total]); err == nil {
			return i
		}
	}
	return -1
}

// resync advances past the start of a bad frame of the given declared length
// (0 when the length itself was invalid).
//
// ResyncNextStart first looks for a valid frame starting inside the bad one,
// since the damage may have been to its length field. Failing that it drops
// the whole frame when its end marker sits where the length field says, as
// only the contents were damaged; otherwise it drops the start marker alone
// and lets the scan find the next one.
func (d *Decoder) resync(total int) {
	n := 1
	switch d.cfg.Resync {
	case ResyncSkipN:
		n = d.cfg.SkipN
	case ResyncNextStart:
		if total <= 0 {
			break
		}
		if j := d.validFrameFrom(1, min(total, len(d.buf))); j > 0 {
			n = j
		} else if total <= len(d.buf) && d.buf[total-1] == EndMarker {
			n = total
		}
	}
	d.drop(min(n, len(d.buf)))
}

func (d *Decoder) drop(n int) {
	if n <= 0 {
		return
	}
	d.stats.BytesDropped += uint64(n) //nolint:gosec // n is non-negative
	d.consume(n)
}

func (d *Decoder) consume(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}
