package hprof

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/coral-mesh/stacksampler/internal/safe"
)

// RecordTag identifies a top-level HPROF record.
type RecordTag byte

const (
	TagUTF8            RecordTag = 0x01
	TagLoadClass       RecordTag = 0x02
	TagFrame           RecordTag = 0x04
	TagTrace           RecordTag = 0x05
	TagStartThread     RecordTag = 0x0A
	TagEndThread       RecordTag = 0x0B
	TagCPUSamples      RecordTag = 0x0D
	TagControlSettings RecordTag = 0x0E
)

const (
	binaryMagic = "JAVA PROFILE 1.0.2"

	// identifierSize is the width of ids written by WriteBinary.
	identifierSize = 4
)

/*
WriteBinary writes data in the binary HPROF format:

	"JAVA PROFILE 1.0.2\0"
	u4      identifier size (4)
	u4      high word of start millis
	u4      low word of start millis
	[u1 tag, u4 time offset, u4 length, body]*

Records are emitted in this order: CONTROL_SETTINGS, thread events (with the
UTF8 records they reference), then for every sample its LOAD_CLASS, FRAME and
TRACE records, and finally a single CPU_SAMPLES record.
*/
func WriteBinary(w io.Writer, data *Data) error {
	bw := &binaryWriter{
		w:       bufio.NewWriter(w),
		strings: make(map[string]uint32),
		classes: make(map[string]uint32),
		frames:  make(map[StackFrame]uint32),
	}

	bw.header(data.StartMillis())
	bw.controlSettings(data.Flags(), data.Depth())

	for _, ev := range data.ThreadHistory() {
		bw.threadEvent(ev)
	}

	samples := data.Samples()
	for _, s := range samples {
		bw.trace(s.Trace)
	}
	bw.cpuSamples(samples)

	if bw.err != nil {
		return bw.err
	}
	return bw.w.Flush()
}

type binaryWriter struct {
	w   *bufio.Writer
	err error

	strings map[string]uint32
	classes map[string]uint32
	frames  map[StackFrame]uint32
	nextID  uint32
	body    []byte
}

func (bw *binaryWriter) write(b []byte) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.w.Write(b)
}

func (bw *binaryWriter) header(startMillis int64) {
	ms, _ := safe.Int64ToUint64(startMillis)
	buf := make([]byte, 0, len(binaryMagic)+13)
	buf = append(buf, binaryMagic...)
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint32(buf, identifierSize)
	buf = binary.BigEndian.AppendUint32(buf, uint32(ms>>32))
	buf = binary.BigEndian.AppendUint32(buf, uint32(ms))
	bw.write(buf)
}

// record writes the buffered body under the given tag.
func (bw *binaryWriter) record(tag RecordTag) {
	length, _ := safe.IntToUint32(len(bw.body))
	head := make([]byte, 0, 9)
	head = append(head, byte(tag))
	head = binary.BigEndian.AppendUint32(head, 0)
	head = binary.BigEndian.AppendUint32(head, length)
	bw.write(head)
	bw.write(bw.body)
	bw.body = bw.body[:0]
}

func (bw *binaryWriter) u2(v uint16) { bw.body = binary.BigEndian.AppendUint16(bw.body, v) }
func (bw *binaryWriter) u4(v uint32) { bw.body = binary.BigEndian.AppendUint32(bw.body, v) }

func (bw *binaryWriter) int4(v int) {
	u, _ := safe.IntToUint32(v)
	bw.u4(u)
}

func (bw *binaryWriter) id() uint32 {
	bw.nextID++
	return bw.nextID
}

// str returns the UTF8 id of s, writing the record on first use. The empty
// string maps to the null id.
func (bw *binaryWriter) str(s string) uint32 {
	if s == "" {
		return 0
	}
	if id, ok := bw.strings[s]; ok {
		return id
	}
	id := bw.id()
	bw.strings[s] = id

	saved := bw.body
	bw.body = make([]byte, 0, 4+len(s))
	bw.u4(id)
	bw.body = append(bw.body, s...)
	bw.record(TagUTF8)
	bw.body = saved
	return id
}

func (bw *binaryWriter) controlSettings(flags Flags, depth int) {
	d, _ := safe.IntToUint16(depth)
	bw.u4(uint32(flags))
	bw.u2(d)
	bw.record(TagControlSettings)
}

func (bw *binaryWriter) threadEvent(ev ThreadEvent) {
	if ev.Type == ThreadEnd {
		bw.int4(ev.ThreadID)
		bw.record(TagEndThread)
		return
	}
	name := bw.str(ev.ThreadName)
	group := bw.str(ev.GroupName)
	parent := bw.str(ev.ParentGroupName)

	bw.int4(ev.ThreadID)
	bw.int4(ev.ObjectID)
	bw.u4(0) // stack trace serial
	bw.u4(name)
	bw.u4(group)
	bw.u4(parent)
	bw.record(TagStartThread)
}

// class returns the class serial number of name, writing LOAD_CLASS on first use.
func (bw *binaryWriter) class(name string) uint32 {
	if serial, ok := bw.classes[name]; ok {
		return serial
	}
	nameID := bw.str(name)
	serial := uint32(len(bw.classes) + 1)
	bw.classes[name] = serial

	bw.u4(serial)
	bw.u4(serial) // class object id
	bw.u4(0)      // stack trace serial
	bw.u4(nameID)
	bw.record(TagLoadClass)
	return serial
}

func (bw *binaryWriter) frame(f StackFrame) uint32 {
	if id, ok := bw.frames[f]; ok {
		return id
	}
	classSerial := bw.class(f.Class)
	method := bw.str(f.Method)
	file := bw.str(f.File)
	line, _ := safe.IntToInt32(f.Line)

	id := bw.id()
	bw.frames[f] = id

	bw.u4(id)
	bw.u4(method)
	bw.u4(0) // method signature
	bw.u4(file)
	bw.u4(classSerial)
	bw.u4(uint32(line))
	bw.record(TagFrame)
	return id
}

func (bw *binaryWriter) trace(t *StackTrace) {
	ids := make([]uint32, t.Len())
	for i := range ids {
		ids[i] = bw.frame(t.Frame(i))
	}

	bw.int4(t.ID())
	bw.int4(t.ThreadID())
	bw.int4(len(ids))
	for _, id := range ids {
		bw.u4(id)
	}
	bw.record(TagTrace)
}

func (bw *binaryWriter) cpuSamples(samples []Sample) {
	total := 0
	for _, s := range samples {
		total += s.Count
	}
	bw.int4(total)
	bw.int4(len(samples))
	for _, s := range samples {
		bw.int4(s.Count)
		bw.int4(s.Trace.ID())
	}
	bw.record(TagCPUSamples)
}
