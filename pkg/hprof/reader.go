package hprof

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// binaryReader reads the big-endian header fields of an HPROF stream and
// tracks the offset for error messages.
type binaryReader struct {
	r      *bufio.Reader
	offset int64
	idSize uint32
}

func (br *binaryReader) u1() (uint8, error) {
	b, err := br.r.ReadByte()
	if err != nil {
		return 0, err
	}
	br.offset++
	return b, nil
}

func (br *binaryReader) u4() (uint32, error) {
	var buf [4]byte
	n, err := io.ReadFull(br.r, buf[:])
	br.offset += int64(n)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// body reads a record body of the declared length. The buffer only grows
// with the bytes actually present in the stream.
func (br *binaryReader) body(length uint32) (*recordBody, error) {
	buf, err := io.ReadAll(io.LimitReader(br.r, int64(length)))
	br.offset += int64(len(buf))
	if err != nil {
		return nil, err
	}
	if len(buf) != int(length) {
		return nil, fmt.Errorf("record declares %d bytes, only %d present", length, len(buf))
	}
	return &recordBody{buf: buf, idSize: br.idSize}, nil
}

// skip discards a record body without buffering it.
func (br *binaryReader) skip(length uint32) error {
	n, err := io.CopyN(io.Discard, br.r, int64(length))
	br.offset += n
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("record declares %d bytes, only %d present", length, n)
	}
	return err
}

// recordBody decodes the fields of one buffered record.
type recordBody struct {
	buf    []byte
	off    int
	idSize uint32
}

func (b *recordBody) remaining() int { return len(b.buf) - b.off }

func (b *recordBody) next(n int) ([]byte, error) {
	if n > b.remaining() {
		return nil, io.ErrUnexpectedEOF
	}
	out := b.buf[b.off : b.off+n]
	b.off += n
	return out, nil
}

func (b *recordBody) rest() []byte {
	out := b.buf[b.off:]
	b.off = len(b.buf)
	return out
}

func (b *recordBody) u2() (uint16, error) {
	buf, err := b.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

func (b *recordBody) u4() (uint32, error) {
	buf, err := b.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

func (b *recordBody) id() (uint64, error) {
	if b.idSize == 8 {
		buf, err := b.next(8)
		if err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint64(buf), nil
	}
	v, err := b.u4()
	return uint64(v), err
}

// pendingFrame is a FRAME record whose strings are resolved lazily.
type pendingFrame struct {
	method, file uint64
	classSerial  uint32
	line         int32
}

type pendingTrace struct {
	threadID int
	frames   []uint64
}

// ReadBinary parses a binary HPROF stream produced by WriteBinary or by any
// writer using the same record subset. Unknown records are skipped.
func ReadBinary(r io.Reader) (*Data, error) {
	br := &binaryReader{r: bufio.NewReader(r)}

	magic, err := br.r.ReadString(0)
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrBadFormat, err)
	}
	br.offset += int64(len(magic))
	magic = strings.TrimSuffix(magic, "\x00")
	if !strings.HasPrefix(magic, "JAVA PROFILE ") {
		return nil, fmt.Errorf("%w: invalid format %q", ErrBadFormat, magic)
	}

	if br.idSize, err = br.u4(); err != nil {
		return nil, fmt.Errorf("%w: read identifier size: %v", ErrBadFormat, err)
	}
	if br.idSize != 4 && br.idSize != 8 {
		return nil, fmt.Errorf("%w: invalid identifier size %d", ErrBadFormat, br.idSize)
	}
	hi, err := br.u4()
	if err != nil {
		return nil, fmt.Errorf("%w: read timestamp: %v", ErrBadFormat, err)
	}
	lo, err := br.u4()
	if err != nil {
		return nil, fmt.Errorf("%w: read timestamp: %v", ErrBadFormat, err)
	}

	p := &binaryParser{
		br:      br,
		data:    NewData(1, 0),
		strings: make(map[uint64]string),
		classes: make(map[uint32]string),
		frames:  make(map[uint64]pendingFrame),
		traces:  make(map[uint32]pendingTrace),
	}
	p.data.SetStartMillis(int64(uint64(hi)<<32 | uint64(lo)))

	for {
		tag, err := br.u1()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read record tag at offset %d: %v", ErrBadFormat, br.offset, err)
		}
		if _, err := br.u4(); err != nil {
			return nil, fmt.Errorf("%w: read record time at offset %d: %v", ErrBadFormat, br.offset, err)
		}
		length, err := br.u4()
		if err != nil {
			return nil, fmt.Errorf("%w: read record length at offset %d: %v", ErrBadFormat, br.offset, err)
		}
		if err := p.record(RecordTag(tag), length); err != nil {
			return nil, fmt.Errorf("%w: record 0x%02X at offset %d: %v", ErrBadFormat, tag, br.offset, err)
		}
	}

	return p.data, nil
}

type binaryParser struct {
	br      *binaryReader
	data    *Data
	strings map[uint64]string
	classes map[uint32]string
	frames  map[uint64]pendingFrame
	traces  map[uint32]pendingTrace
}

// record decodes one record body. Every byte of the declared length must be
// consumed by the decoder of a known tag.
func (p *binaryParser) record(tag RecordTag, length uint32) error {
	var decode func(*recordBody) error
	switch tag {
	case TagUTF8:
		decode = p.utf8
	case TagLoadClass:
		decode = p.loadClass
	case TagFrame:
		decode = p.frame
	case TagTrace:
		decode = p.trace
	case TagStartThread:
		decode = p.startThread
	case TagEndThread:
		decode = p.endThread
	case TagCPUSamples:
		decode = p.cpuSamples
	case TagControlSettings:
		decode = p.controlSettings
	default:
		return p.br.skip(length)
	}

	body, err := p.br.body(length)
	if err != nil {
		return err
	}
	if err := decode(body); err != nil {
		return err
	}
	if n := body.remaining(); n != 0 {
		return fmt.Errorf("record declares %d bytes, %d left undecoded", length, n)
	}
	return nil
}

func (p *binaryParser) utf8(b *recordBody) error {
	id, err := b.id()
	if err != nil {
		return err
	}
	p.strings[id] = string(b.rest())
	return nil
}

func (p *binaryParser) loadClass(b *recordBody) error {
	serial, err := b.u4()
	if err != nil {
		return err
	}
	if _, err := b.id(); err != nil { // class object id
		return err
	}
	if _, err := b.u4(); err != nil { // stack trace serial
		return err
	}
	nameID, err := b.id()
	if err != nil {
		return err
	}
	p.classes[serial] = p.strings[nameID]
	return nil
}

func (p *binaryParser) frame(b *recordBody) error {
	frameID, err := b.id()
	if err != nil {
		return err
	}
	method, err := b.id()
	if err != nil {
		return err
	}
	if _, err := b.id(); err != nil { // method signature
		return err
	}
	file, err := b.id()
	if err != nil {
		return err
	}
	classSerial, err := b.u4()
	if err != nil {
		return err
	}
	line, err := b.u4()
	if err != nil {
		return err
	}
	p.frames[frameID] = pendingFrame{method: method, file: file, classSerial: classSerial, line: int32(line)}
	return nil
}

func (p *binaryParser) trace(b *recordBody) error {
	serial, err := b.u4()
	if err != nil {
		return err
	}
	thread, err := b.u4()
	if err != nil {
		return err
	}
	n, err := b.u4()
	if err != nil {
		return err
	}
	if uint64(n)*uint64(b.idSize) != uint64(b.remaining()) {
		return fmt.Errorf("trace %d declares %d frames in a %d byte record", serial, n, len(b.buf))
	}
	ids := make([]uint64, n)
	for i := range ids {
		if ids[i], err = b.id(); err != nil {
			return err
		}
	}
	p.traces[serial] = pendingTrace{threadID: int(thread), frames: ids}
	return nil
}

func (p *binaryParser) startThread(b *recordBody) error {
	thread, err := b.u4()
	if err != nil {
		return err
	}
	object, err := b.id()
	if err != nil {
		return err
	}
	if _, err := b.u4(); err != nil { // stack trace serial
		return err
	}
	var names [3]uint64
	for i := range names {
		if names[i], err = b.id(); err != nil {
			return err
		}
	}
	p.data.AddThreadEvent(StartEvent(int(object), int(thread),
		p.strings[names[0]], p.strings[names[1]], p.strings[names[2]]))
	return nil
}

func (p *binaryParser) endThread(b *recordBody) error {
	thread, err := b.u4()
	if err != nil {
		return err
	}
	p.data.AddThreadEvent(EndEvent(int(thread)))
	return nil
}

func (p *binaryParser) controlSettings(b *recordBody) error {
	flags, err := b.u4()
	if err != nil {
		return err
	}
	depth, err := b.u2()
	if err != nil {
		return err
	}
	p.data.SetFlags(Flags(flags))
	if depth > 0 {
		return p.data.SetDepth(int(depth))
	}
	return nil
}

func (p *binaryParser) cpuSamples(b *recordBody) error {
	if _, err := b.u4(); err != nil { // total, recomputed from counts
		return err
	}
	n, err := b.u4()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		count, err := b.u4()
		if err != nil {
			return err
		}
		serial, err := b.u4()
		if err != nil {
			return err
		}
		pt, ok := p.traces[serial]
		if !ok {
			return fmt.Errorf("cpu sample references unknown trace %d", serial)
		}
		frames, err := p.resolve(pt.frames)
		if err != nil {
			return err
		}
		p.data.AddStackTrace(NewStackTrace(int(serial), pt.threadID, frames), int(count))
	}
	return nil
}

func (p *binaryParser) resolve(ids []uint64) ([]StackFrame, error) {
	frames := make([]StackFrame, len(ids))
	for i, id := range ids {
		pf, ok := p.frames[id]
		if !ok {
			return nil, fmt.Errorf("trace references unknown frame %d", id)
		}
		frames[i] = StackFrame{
			Class:  p.classes[pf.classSerial],
			Method: p.strings[pf.method],
			File:   p.strings[pf.file],
			Line:   int(pf.line),
		}
	}
	return frames, nil
}
