package wal

import (
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"time"

	"github.com/pkg/errors"
)

// LogEntry is one logged transaction invocation. It must not be modified
// after it has been handed to a writer or returned by a reader.
type LogEntry struct {
	TxnID        int64
	ClientHandle int64
	ProcedureID  int32
	// Timestamp is the arrival time at the partition in unix nanoseconds.
	Timestamp int64
	// Params holds nil, bool, int64, float64, string, []byte, time.Time or
	// []interface{} values. Narrower integer and float types are accepted on
	// encode and come back widened. Decoding normalizes empty values: an
	// empty Params comes back nil and a nil []byte comes back as []byte{}.
	// Times come back in UTC.
	Params []interface{}
}

func (e *LogEntry) String() string {
	return fmt.Sprintf("LogEntry[txn:%d] proc:%d handle:%d ts:%d params:%v",
		e.TxnID, e.ProcedureID, e.ClientHandle, e.Timestamp, e.Params)
}

// Record layout:
//
//	int32  body length
//	uint32 crc32c of body
//	body:  txnID int64, clientHandle int64, timestamp int64, procID int32,
//	       paramCount int16, params
const (
	recordLenBytes   = 4
	checksumLenBytes = 4
	recordPrefixLen  = recordLenBytes + checksumLenBytes
	entryFixedLen    = 8 + 8 + 8 + 4 + 2

	// MaxRecordBytes caps the body of a single record.
	MaxRecordBytes = 64 << 20

	maxParamDepth = 8
)

const (
	tagNull byte = iota
	tagBool
	tagInt
	tagFloat
	tagString
	tagBytes
	tagTimestamp
	tagArray
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeEntry serializes e into a self-delimiting record.
func EncodeEntry(e *LogEntry) ([]byte, error) {
	if len(e.Params) > math.MaxInt16 {
		return nil, errors.Wrapf(ErrRecordTooLarge, "%d parameters", len(e.Params))
	}
	buf := make([]byte, recordPrefixLen, recordPrefixLen+entryFixedLen+16*len(e.Params))
	buf = byteOrder.AppendUint64(buf, uint64(e.TxnID))
	buf = byteOrder.AppendUint64(buf, uint64(e.ClientHandle))
	buf = byteOrder.AppendUint64(buf, uint64(e.Timestamp))
	buf = byteOrder.AppendUint32(buf, uint32(e.ProcedureID))
	buf = byteOrder.AppendUint16(buf, uint16(len(e.Params)))

	var err error
	for i, p := range e.Params {
		if buf, err = appendParam(buf, p, 0); err != nil {
			return nil, errors.Wrapf(err, "txn %d param %d", e.TxnID, i)
		}
	}

	body := buf[recordPrefixLen:]
	if len(body) > MaxRecordBytes {
		return nil, errors.Wrapf(ErrRecordTooLarge, "txn %d: %d bytes", e.TxnID, len(body))
	}
	byteOrder.PutUint32(buf[0:], uint32(len(body)))
	byteOrder.PutUint32(buf[recordLenBytes:], crc32.Checksum(body, castagnoli))
	return buf, nil
}

// DecodeEntry decodes one record at the cursor position and advances the
// cursor past it. On error the cursor is left unchanged.
func DecodeEntry(c *Cursor) (*LogEntry, error) {
	prefix, ok := c.peek(recordPrefixLen)
	if !ok {
		return nil, ErrTruncatedRecord
	}
	bodyLen, err := checkBodyLen(prefix)
	if err != nil {
		return nil, err
	}
	record, ok := c.peek(recordPrefixLen + bodyLen)
	if !ok {
		return nil, ErrTruncatedRecord
	}
	e, err := decodeRecord(record)
	if err != nil {
		return nil, err
	}
	c.off += len(record)
	return e, nil
}

// ReadEntry reads one record from a stream. limit is the number of bytes
// known to be left in the stream, or -1 when unknown; a record that claims
// more than that is reported as truncated without reading it.
// A stream that ends cleanly before the record starts returns io.EOF.
func ReadEntry(r io.Reader, limit int64) (*LogEntry, int, error) {
	var prefix [recordPrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		switch err {
		case io.EOF:
			return nil, 0, io.EOF
		case io.ErrUnexpectedEOF:
			return nil, 0, ErrTruncatedRecord
		default:
			return nil, 0, errors.Wrap(err, "read log record prefix")
		}
	}
	bodyLen, err := checkBodyLen(prefix[:])
	if err != nil {
		return nil, 0, err
	}
	if limit >= 0 && int64(recordPrefixLen+bodyLen) > limit {
		return nil, 0, ErrTruncatedRecord
	}

	record := make([]byte, recordPrefixLen+bodyLen)
	copy(record, prefix[:])
	if _, err := io.ReadFull(r, record[recordPrefixLen:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, ErrTruncatedRecord
		}
		return nil, 0, errors.Wrap(err, "read log record body")
	}
	e, err := decodeRecord(record)
	if err != nil {
		return nil, 0, err
	}
	return e, len(record), nil
}

func checkBodyLen(prefix []byte) (int, error) {
	bodyLen := int32(byteOrder.Uint32(prefix))
	if bodyLen < entryFixedLen || bodyLen > MaxRecordBytes {
		return 0, errors.Wrapf(ErrMalformedRecord, "body length %d", bodyLen)
	}
	return int(bodyLen), nil
}

func decodeRecord(record []byte) (*LogEntry, error) {
	body := record[recordPrefixLen:]
	if sum := byteOrder.Uint32(record[recordLenBytes:]); sum != crc32.Checksum(body, castagnoli) {
		return nil, errors.Wrap(ErrMalformedRecord, "checksum mismatch")
	}

	c := NewCursor(body)
	e := &LogEntry{}
	e.TxnID, _ = c.readInt64()
	e.ClientHandle, _ = c.readInt64()
	e.Timestamp, _ = c.readInt64()
	e.ProcedureID, _ = c.readInt32()
	count, _ := c.readInt16()
	if count < 0 {
		return nil, errors.Wrapf(ErrMalformedRecord, "parameter count %d", count)
	}
	if count > 0 {
		e.Params = make([]interface{}, count)
	}
	for i := range e.Params {
		p, err := readParam(c, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "txn %d param %d", e.TxnID, i)
		}
		e.Params[i] = p
	}
	if c.Remaining() != 0 {
		return nil, errors.Wrapf(ErrMalformedRecord, "%d trailing bytes", c.Remaining())
	}
	return e, nil
}

func appendParam(buf []byte, v interface{}, depth int) ([]byte, error) {
	switch p := v.(type) {
	case nil:
		return append(buf, tagNull), nil
	case bool:
		var b byte
		if p {
			b = 1
		}
		return append(buf, tagBool, b), nil
	case int:
		return appendInt(buf, int64(p)), nil
	case int8:
		return appendInt(buf, int64(p)), nil
	case int16:
		return appendInt(buf, int64(p)), nil
	case int32:
		return appendInt(buf, int64(p)), nil
	case int64:
		return appendInt(buf, p), nil
	case float32:
		return appendFloat(buf, float64(p)), nil
	case float64:
		return appendFloat(buf, p), nil
	case string:
		return appendLenPrefixed(append(buf, tagString), []byte(p)), nil
	case []byte:
		return appendLenPrefixed(append(buf, tagBytes), p), nil
	case time.Time:
		buf = append(buf, tagTimestamp)
		buf = byteOrder.AppendUint64(buf, uint64(p.Unix()))
		return byteOrder.AppendUint32(buf, uint32(p.Nanosecond())), nil
	case []interface{}:
		if depth >= maxParamDepth {
			return nil, errors.Wrapf(ErrUnsupportedParam, "arrays nested deeper than %d", maxParamDepth)
		}
		if len(p) > math.MaxInt16 {
			return nil, errors.Wrapf(ErrRecordTooLarge, "array of %d elements", len(p))
		}
		buf = append(buf, tagArray)
		buf = byteOrder.AppendUint16(buf, uint16(len(p)))
		var err error
		for _, elem := range p {
			if buf, err = appendParam(buf, elem, depth+1); err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedParam, "%T", v)
	}
}

func appendInt(buf []byte, v int64) []byte {
	buf = append(buf, tagInt)
	return byteOrder.AppendUint64(buf, uint64(v))
}

func appendFloat(buf []byte, v float64) []byte {
	buf = append(buf, tagFloat)
	return byteOrder.AppendUint64(buf, math.Float64bits(v))
}

func appendLenPrefixed(buf, b []byte) []byte {
	buf = byteOrder.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func readParam(c *Cursor, depth int) (interface{}, error) {
	short := func(what string) error {
		return errors.Wrapf(ErrMalformedRecord, "%s runs past record body", what)
	}
	tag, ok := c.readUint8()
	if !ok {
		return nil, short("parameter tag")
	}
	switch tag {
	case tagNull:
		return nil, nil
	case tagBool:
		b, ok := c.readUint8()
		if !ok {
			return nil, short("bool")
		}
		if b > 1 {
			return nil, errors.Wrapf(ErrMalformedRecord, "bool value %d", b)
		}
		return b == 1, nil
	case tagInt:
		v, ok := c.readInt64()
		if !ok {
			return nil, short("int")
		}
		return v, nil
	case tagFloat:
		v, ok := c.readInt64()
		if !ok {
			return nil, short("float")
		}
		return math.Float64frombits(uint64(v)), nil
	case tagString, tagBytes:
		n, ok := c.readInt32()
		if !ok {
			return nil, short("length")
		}
		b, ok := c.next(int(n))
		if !ok {
			return nil, short(fmt.Sprintf("%d byte value", n))
		}
		if tag == tagString {
			return string(b), nil
		}
		return append([]byte{}, b...), nil
	case tagTimestamp:
		sec, ok := c.readInt64()
		if !ok {
			return nil, short("timestamp")
		}
		nsec, ok := c.readInt32()
		if !ok {
			return nil, short("timestamp")
		}
		if nsec < 0 || nsec >= int32(time.Second) {
			return nil, errors.Wrapf(ErrMalformedRecord, "timestamp nanoseconds %d", nsec)
		}
		return time.Unix(sec, int64(nsec)).UTC(), nil
	case tagArray:
		if depth >= maxParamDepth {
			return nil, errors.Wrapf(ErrMalformedRecord, "arrays nested deeper than %d", maxParamDepth)
		}
		n, ok := c.readInt16()
		if !ok {
			return nil, short("array length")
		}
		if n < 0 {
			return nil, errors.Wrapf(ErrMalformedRecord, "array length %d", n)
		}
		arr := make([]interface{}, n)
		for i := range arr {
			v, err := readParam(c, depth+1)
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return arr, nil
	default:
		return nil, errors.Wrapf(ErrMalformedRecord, "unknown parameter tag %d", tag)
	}
}
