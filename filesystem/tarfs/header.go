package tarfs

import (
	"fmt"

	"github.com/imgtool-go/imgtool/filesystem"
)

type ostream = filesystem.Ostream

// RecordSize is the fixed ustar header/payload block size. Grounded on
// original_source/include/tar.h's TAR_RECORD_SIZE.
const RecordSize = 512

const (
	typeFile     = '0'
	typeLink     = '1'
	typeSlink    = '2'
	typeChardev  = '3'
	typeBlockdev = '4'
	typeDir      = '5'
	typeFifo     = '6'

	typeGNUSlink = 'K'
	typeGNUPath  = 'L'
)

const (
	magicOld   = "ustar "
	versionOld = " "
)

// header is the byte layout of tar_header_t, written field by field into
// a 512-byte record. Offsets: name 0-99, mode 100-107, uid 108-115,
// gid 116-123, size 124-135, mtime 136-147, chksum 148-155, typeflag 156,
// linkname 157-256, magic 257-262, version 263-264, uname 265-296,
// gname 297-328, devmajor 329-336, devminor 337-344, then 167 bytes of
// posix-prefix/gnu tail left zeroed (not used by this writer).
type header [RecordSize]byte

func (h *header) setString(off int, s string) {
	copy(h[off:], s)
}

// writeBinary encodes value as big-endian binary in digits bytes with
// the high bit of the first byte set, the base-256 fallback used when a
// numeric field doesn't fit in octal ASCII. Grounded on
// original_source/lib/filesystem/tarfs/format.c's write_binary.
func writeBinary(dst []byte, value uint64, digits int) {
	for i := range dst[:digits] {
		dst[i] = 0
	}
	for digits > 0 {
		digits--
		dst[digits] = byte(value & 0xFF)
		value >>= 8
	}
	dst[0] |= 0x80
}

// writeNumber encodes value as octal ASCII, left-padded with zeros and
// followed by a space when it fits in digits-1 octal characters; a value
// that needs all digits characters fills the field with no terminator,
// and anything larger falls back to base-256 binary. Grounded on
// format.c's write_number.
func writeNumber(dst []byte, value uint64, digits int) {
	var mask uint64
	for i := 0; i < digits-1; i++ {
		mask = (mask << 3) | 7
	}

	switch {
	case value <= mask:
		s := fmt.Sprintf("%0*o ", digits-1, value)
		copy(dst[:digits], s)
	case value <= (mask<<3)|7:
		s := fmt.Sprintf("%0*o", digits, value)
		copy(dst[:digits], s)
	default:
		writeBinary(dst, value, digits)
	}
}

// writeNumberSigned matches format.c's write_number_signed: negative
// values are always written as base-256 binary, using their two's
// complement bit pattern (which uint64(value) already is in Go).
func writeNumberSigned(dst []byte, value int64, digits int) {
	if value < 0 {
		writeBinary(dst, uint64(value), digits)
		return
	}
	writeNumber(dst, uint64(value), digits)
}

// checksum sums every header byte with the checksum field treated as
// all spaces, matching format.c's get_checksum.
func checksum(h *header) uint64 {
	var sum uint64
	for i := 0; i < 148; i++ {
		sum += uint64(h[i])
	}
	for i := 148; i < 156; i++ {
		sum += uint64(' ')
	}
	for i := 156; i < RecordSize; i++ {
		sum += uint64(h[i])
	}
	return sum
}

func updateChecksum(h *header) {
	sum := checksum(h)
	s := fmt.Sprintf("%06o", sum)
	copy(h[148:154], s)
	h[154] = 0
	h[155] = ' '
}

// fileAttrs carries exactly the metadata writeHeader needs, independent
// of fstree.Node so the GNU long-name/long-link helpers can synthesize a
// dummy regular-file record without referencing a real node.
type fileAttrs struct {
	uid, gid         uint32
	permissions      uint16
	size             uint64
	mtime            int64
	devMajor, devMin uint32
}

func writeHeader(out ostream, attrs fileAttrs, name, slinkTarget string, typeflag byte) error {
	var h header

	h.setString(0, name)
	writeNumber(h[100:108], uint64(attrs.permissions), 8)
	writeNumber(h[108:116], uint64(attrs.uid), 8)
	writeNumber(h[116:124], uint64(attrs.gid), 8)
	writeNumber(h[124:136], attrs.size, 12)
	writeNumberSigned(h[136:148], attrs.mtime, 12)
	h[156] = typeflag
	if slinkTarget != "" {
		h.setString(157, slinkTarget)
	}
	h.setString(257, magicOld)
	h.setString(263, versionOld)
	h.setString(265, fmt.Sprintf("%d", attrs.uid))
	h.setString(297, fmt.Sprintf("%d", attrs.gid))
	writeNumber(h[329:337], uint64(attrs.devMajor), 8)
	writeNumber(h[337:345], uint64(attrs.devMin), 8)

	updateChecksum(&h)
	return out.Append(h[:])
}

// writeGNUHeader emits a GNU long-name/long-link sub-record: a dummy
// type-L/K regular-file header carrying payload as its content, followed
// by the payload itself and zero padding to the next record boundary.
// Grounded on format.c's write_gnu_header.
func writeGNUHeader(out ostream, attrs fileAttrs, payload string, typeflag byte, name string) error {
	dummy := attrs
	dummy.permissions = 0644
	dummy.size = uint64(len(payload))

	if err := writeHeader(out, dummy, name, "", typeflag); err != nil {
		return err
	}
	if err := out.Append([]byte(payload)); err != nil {
		return err
	}

	padSz := len(payload) % RecordSize
	if padSz == 0 {
		return nil
	}
	return out.AppendSparse(uint64(RecordSize - padSz))
}
