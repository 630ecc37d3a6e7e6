package wal

import (
	"io"
	"math"

	"github.com/pkg/errors"
)

// MaxProcedureNameBytes bounds a procedure name in the header.
const MaxProcedureNameBytes = 1 << 16

// Procedure maps a procedure id used in log entries to its catalog name.
type Procedure struct {
	ID   int32
	Name string
}

// ProcedureTable is the ordered procedure mapping stored in a log header.
// Ids are unique and the slice order is the order on disk.
type ProcedureTable []Procedure

// NewProcedureTable validates procs and returns them as a table.
func NewProcedureTable(procs ...Procedure) (ProcedureTable, error) {
	seen := make(map[int32]struct{}, len(procs))
	for _, p := range procs {
		if _, ok := seen[p.ID]; ok {
			return nil, errors.Wrapf(ErrDuplicateProcedure, "id %d (%s)", p.ID, p.Name)
		}
		if len(p.Name) > MaxProcedureNameBytes {
			return nil, errors.Errorf("procedure %d: name is %d bytes", p.ID, len(p.Name))
		}
		seen[p.ID] = struct{}{}
	}
	return ProcedureTable(procs), nil
}

// Lookup returns the name registered for id.
func (t ProcedureTable) Lookup(id int32) (string, bool) {
	for _, p := range t {
		if p.ID == id {
			return p.Name, true
		}
	}
	return "", false
}

// Index returns a map for constant-time id checks on the append path.
func (t ProcedureTable) Index() map[int32]string {
	m := make(map[int32]string, len(t))
	for _, p := range t {
		m[p.ID] = p.Name
	}
	return m
}

// BodyMode is the framing of everything after the header. It is fixed for
// the lifetime of a file.
type BodyMode int8

const (
	// RawBody is a sequence of entry records.
	RawBody BodyMode = iota
	// BlockBody is a sequence of compressed group commit blocks.
	BlockBody
)

func (m BodyMode) String() string {
	if m == BlockBody {
		return "group-commit"
	}
	return "raw"
}

type Header struct {
	GroupCommit bool
	Procedures  ProcedureTable
}

func (h *Header) Mode() BodyMode {
	if h.GroupCommit {
		return BlockBody
	}
	return RawBody
}

// EncodeHeader serializes the header:
//
//	byte  group commit (0|1)
//	int32 procedure count
//	(int32 id, int32 name length, name)*
func EncodeHeader(groupCommit bool, procs ProcedureTable) ([]byte, error) {
	if len(procs) > math.MaxInt32 {
		return nil, errors.Errorf("%d procedures", len(procs))
	}
	buf := make([]byte, 0, 5+len(procs)*24)
	if groupCommit {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = byteOrder.AppendUint32(buf, uint32(len(procs)))
	for _, p := range procs {
		buf = byteOrder.AppendUint32(buf, uint32(p.ID))
		buf = appendLenPrefixed(buf, []byte(p.Name))
	}
	return buf, nil
}

func WriteHeader(w io.Writer, groupCommit bool, procs ProcedureTable) error {
	buf, err := EncodeHeader(groupCommit, procs)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "write command log header")
	}
	return nil
}

// ReadHeader parses the header at the start of r. Any short read or invalid
// field is reported as ErrCorruptHeader.
func ReadHeader(r io.Reader) (*Header, error) {
	var fixed [5]byte
	if err := readHeaderBytes(r, fixed[:], "group commit flag and procedure count"); err != nil {
		return nil, err
	}
	if fixed[0] > 1 {
		return nil, errors.Wrapf(ErrCorruptHeader, "group commit flag %d", fixed[0])
	}
	count := int32(byteOrder.Uint32(fixed[1:]))
	if count < 0 {
		return nil, errors.Wrapf(ErrCorruptHeader, "procedure count %d", count)
	}

	h := &Header{GroupCommit: fixed[0] == 1}
	seen := make(map[int32]struct{})
	var pair [8]byte
	for i := int32(0); i < count; i++ {
		if err := readHeaderBytes(r, pair[:], "procedure entry"); err != nil {
			return nil, err
		}
		id := int32(byteOrder.Uint32(pair[:4]))
		nameLen := int32(byteOrder.Uint32(pair[4:]))
		if nameLen < 0 || nameLen > MaxProcedureNameBytes {
			return nil, errors.Wrapf(ErrCorruptHeader, "procedure %d name length %d", id, nameLen)
		}
		name := make([]byte, nameLen)
		if err := readHeaderBytes(r, name, "procedure name"); err != nil {
			return nil, err
		}
		if _, ok := seen[id]; ok {
			return nil, errors.Wrapf(ErrCorruptHeader, "duplicate procedure id %d", id)
		}
		seen[id] = struct{}{}
		h.Procedures = append(h.Procedures, Procedure{ID: id, Name: string(name)})
	}
	return h, nil
}

// HeaderSize returns the encoded size of a header.
func HeaderSize(procs ProcedureTable) int {
	n := 5
	for _, p := range procs {
		n += 8 + len(p.Name)
	}
	return n
}

// MinHeaderSize is the size of a header with no procedures. Files shorter
// than this hold nothing worth replaying.
const MinHeaderSize = 5

func readHeaderBytes(r io.Reader, buf []byte, what string) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return errors.Wrapf(ErrCorruptHeader, "short %s", what)
		}
		return errors.Wrapf(err, "read %s", what)
	}
	return nil
}

// Equal reports whether two tables hold the same pairs in the same order.
func (t ProcedureTable) Equal(o ProcedureTable) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if t[i] != o[i] {
			return false
		}
	}
	return true
}
