package recorder

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"

	"livebridge/internal/schema"
)

// Record layout: 48-byte header, payload, CRC32C of header+payload.
const (
	formatVersion  uint16 = 2
	headerSize            = 48
	checksumSize          = 4
	maxPayloadSize        = 1 << 20
)

var (
	magic    = [4]byte{'L', 'B', 'W', '2'}
	crcTable = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic     = errors.New("wal invalid magic")
	ErrUnsupportedVer   = errors.New("wal unsupported record version")
	ErrChecksumMismatch = errors.New("wal checksum mismatch")
	ErrPayloadTooLarge  = errors.New("wal payload too large")
)

func putHeader(dst []byte, h schema.EventHeader, payloadLen int) {
	_ = dst[headerSize-1]
	copy(dst[0:4], magic[:])
	le := binary.LittleEndian
	le.PutUint16(dst[4:6], formatVersion)
	le.PutUint16(dst[6:8], uint16(h.Type))
	le.PutUint16(dst[8:10], h.Version)
	le.PutUint16(dst[10:12], h.Source)
	le.PutUint16(dst[12:14], h.Flags)
	le.PutUint16(dst[14:16], 0)
	le.PutUint32(dst[16:20], uint32(payloadLen))
	le.PutUint64(dst[20:28], h.Seq)
	le.PutUint64(dst[28:36], uint64(h.TsEvent))
	le.PutUint64(dst[36:44], uint64(h.TsRecv))
	le.PutUint32(dst[44:48], uint32(h.TraceID))
}

func parseHeader(src []byte) (schema.EventHeader, int, error) {
	if !bytes.Equal(src[0:4], magic[:]) {
		return schema.EventHeader{}, 0, ErrInvalidMagic
	}
	le := binary.LittleEndian
	if le.Uint16(src[4:6]) != formatVersion {
		return schema.EventHeader{}, 0, ErrUnsupportedVer
	}
	h := schema.EventHeader{
		Type:    schema.EventType(le.Uint16(src[6:8])),
		Version: le.Uint16(src[8:10]),
		Source:  le.Uint16(src[10:12]),
		Flags:   le.Uint16(src[12:14]),
		Seq:     le.Uint64(src[20:28]),
		TsEvent: int64(le.Uint64(src[28:36])),
		TsRecv:  int64(le.Uint64(src[36:44])),
		TraceID: uint64(le.Uint32(src[44:48])),
	}
	return h, int(le.Uint32(src[16:20])), nil
}

func checksum(header, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

// Reader decodes records sequentially from one segment.
type Reader struct {
	r       *bufio.Reader
	verify  bool
	header  [headerSize]byte
	trailer [checksumSize]byte
	payload []byte
}

// NewReader wraps r. Checksums are verified unless skipChecksum is set.
func NewReader(r io.Reader, skipChecksum bool) *Reader {
	return &Reader{r: bufio.NewReader(r), verify: !skipChecksum}
}

// Next returns the next header and payload. The payload is only valid until the
// next call. io.EOF is returned at a clean record boundary; a truncated tail
// yields io.ErrUnexpectedEOF.
func (r *Reader) Next() (schema.EventHeader, []byte, error) {
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		return schema.EventHeader{}, nil, err
	}
	h, n, err := parseHeader(r.header[:])
	if err != nil {
		return h, nil, err
	}
	if n > maxPayloadSize {
		return h, nil, ErrPayloadTooLarge
	}
	if cap(r.payload) < n {
		r.payload = make([]byte, n)
	}
	r.payload = r.payload[:n]
	if _, err := io.ReadFull(r.r, r.payload); err != nil {
		return h, nil, unexpected(err)
	}
	if _, err := io.ReadFull(r.r, r.trailer[:]); err != nil {
		return h, nil, unexpected(err)
	}
	if r.verify && binary.LittleEndian.Uint32(r.trailer[:]) != checksum(r.header[:], r.payload) {
		return h, nil, ErrChecksumMismatch
	}
	return h, r.payload, nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
