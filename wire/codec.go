package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Encode serializes a FaultMessage, SiteFailureMessage, or
// SiteFailureForwardMessage to its byte-exact wire form.
func Encode(msg interface{}) ([]byte, error) {
	var buf bytes.Buffer

	switch m := msg.(type) {
	case FaultMessage:
		writeUint64(&buf, m.ReportingSite)
		writeUint64(&buf, m.FailedSite)
		writeBool(&buf, m.Witnessed)
		writeHsidSet(&buf, m.Survivors)
	case SiteFailureMessage:
		writeSiteFailureMessage(&buf, m)
	case SiteFailureForwardMessage:
		writeUint64(&buf, m.Reporter)
		writeSiteFailureMessage(&buf, m.Inner)
	default:
		return nil, fmt.Errorf("wire: unsupported message type %T", msg)
	}

	return buf.Bytes(), nil
}

// DecodeFaultMessage decodes a FaultMessage from its wire form.
func DecodeFaultMessage(data []byte) (FaultMessage, error) {
	r := bytes.NewReader(data)

	reporting, err := readUint64(r)
	if err != nil {
		return FaultMessage{}, err
	}
	failed, err := readUint64(r)
	if err != nil {
		return FaultMessage{}, err
	}
	witnessed, err := readBool(r)
	if err != nil {
		return FaultMessage{}, err
	}
	survivors, err := readHsidSet(r)
	if err != nil {
		return FaultMessage{}, err
	}

	if r.Len() != 0 {
		return FaultMessage{}, fmt.Errorf("wire: %d trailing bytes after FaultMessage", r.Len())
	}

	return FaultMessage{
		ReportingSite: reporting,
		FailedSite:    failed,
		Witnessed:     witnessed,
		Survivors:     survivors,
	}, nil
}

// DecodeSiteFailureMessage decodes a SiteFailureMessage from its wire form.
func DecodeSiteFailureMessage(data []byte) (SiteFailureMessage, error) {
	r := bytes.NewReader(data)
	m, err := readSiteFailureMessage(r)
	if err != nil {
		return SiteFailureMessage{}, err
	}
	if r.Len() != 0 {
		return SiteFailureMessage{}, fmt.Errorf("wire: %d trailing bytes after SiteFailureMessage", r.Len())
	}
	return m, nil
}

// DecodeSiteFailureForwardMessage decodes a SiteFailureForwardMessage from
// its wire form.
func DecodeSiteFailureForwardMessage(data []byte) (SiteFailureForwardMessage, error) {
	r := bytes.NewReader(data)

	reporter, err := readUint64(r)
	if err != nil {
		return SiteFailureForwardMessage{}, err
	}
	inner, err := readSiteFailureMessage(r)
	if err != nil {
		return SiteFailureForwardMessage{}, err
	}
	if r.Len() != 0 {
		return SiteFailureForwardMessage{}, fmt.Errorf("wire: %d trailing bytes after SiteFailureForwardMessage", r.Len())
	}

	return SiteFailureForwardMessage{Reporter: reporter, Inner: inner}, nil
}

func writeSiteFailureMessage(buf *bytes.Buffer, m SiteFailureMessage) {
	writeUint64(buf, m.Source)
	writeHsidSet(buf, m.Survivors)
	writeSafeTxnMap(buf, m.SafeTxnIDs)
}

func readSiteFailureMessage(r *bytes.Reader) (SiteFailureMessage, error) {
	source, err := readUint64(r)
	if err != nil {
		return SiteFailureMessage{}, err
	}
	survivors, err := readHsidSet(r)
	if err != nil {
		return SiteFailureMessage{}, err
	}
	safeTxnIDs, err := readSafeTxnMap(r)
	if err != nil {
		return SiteFailureMessage{}, err
	}
	return SiteFailureMessage{Source: source, Survivors: survivors, SafeTxnIDs: safeTxnIDs}, nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("wire: short read for uint64: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeInt64(buf *bytes.Buffer, v int64) {
	writeUint64(buf, uint64(v))
}

func readInt64(r *bytes.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, fmt.Errorf("wire: short read for bool: %w", err)
	}
	return b != 0, nil
}

// writeHsidSet writes a sorted set of hsids as a 4-byte length prefix
// followed by the sorted 8-byte big-endian values.
func writeHsidSet(buf *bytes.Buffer, ids []uint64) {
	sorted := SortedHsids(ids)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sorted)))
	buf.Write(lenBuf[:])

	for _, id := range sorted {
		writeUint64(buf, id)
	}
}

func readHsidSet(r *bytes.Reader) ([]uint64, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: short read for set length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])

	ids := make([]uint64, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, v)
	}
	return ids, nil
}

// writeSafeTxnMap writes the map as a sorted (by key) length-prefixed array
// of (hsid, i64) pairs.
func writeSafeTxnMap(buf *bytes.Buffer, m map[uint64]int64) {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(keys)))
	buf.Write(lenBuf[:])

	for _, k := range keys {
		writeUint64(buf, k)
		writeInt64(buf, m[k])
	}
}

func readSafeTxnMap(r *bytes.Reader) (map[uint64]int64, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: short read for map length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])

	m := make(map[uint64]int64, n)
	for i := uint32(0); i < n; i++ {
		k, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		v, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}
