// Package archive walks a zip archive as a single forward pass over a byte
// stream. Entries are produced one at a time from their local file headers, so
// the archive never has to be held in memory or be seekable.
package archive

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
)

const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	directory64EndSignature  = 0x06064b50
	dataDescriptorSignature  = 0x08074b50

	fileHeaderLen = 26 // without the signature
	zip64ExtraID  = 0x0001
	uint32max     = (1 << 32) - 1

	flagEncrypted      = 0x1
	flagDataDescriptor = 0x8

	readBufferSize = 64 * 1024
)

// Compression methods understood by the reader.
const (
	Store   uint16 = 0
	Deflate uint16 = 8
)

var dataDescriptorSig = []byte{0x50, 0x4b, 0x07, 0x08}

var (
	ErrFormat       = errors.New("archive: not a valid zip stream")
	ErrAlgorithm    = errors.New("archive: unsupported compression algorithm")
	ErrChecksum     = errors.New("archive: checksum error")
	ErrEncrypted    = errors.New("archive: encrypted entry")
	ErrInsecurePath = errors.New("archive: insecure file path")
)

type EntryType int

const (
	TypeFile EntryType = iota
	TypeDirectory
)

func (t EntryType) String() string {
	if t == TypeDirectory {
		return "directory"
	}
	return "file"
}

// Entry describes one local file header. Sizes and CRC32 may only be final
// once the entry body has been read to EOF when the archive uses data
// descriptors. Err is set for entries that can be skipped but not written.
type Entry struct {
	Name             string
	Type             EntryType
	Method           uint16
	Modified         time.Time
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
	Err              error

	flags uint16
	zip64 bool
}

func (e *Entry) hasDataDescriptor() bool {
	return e.flags&flagDataDescriptor != 0
}

// Reader yields the entries of a zip stream in archive order. Between calls
// to Next, Read returns the current entry's decompressed bytes.
type Reader struct {
	r       *bufio.Reader
	cur     *entryReader
	err     error
	entries int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, readBufferSize)}
}

// Entries is the number of entries produced so far.
func (z *Reader) Entries() int {
	return z.entries
}

// Next advances to the next entry, draining whatever is left of the current
// one. It returns io.EOF once the central directory is reached.
func (z *Reader) Next() (*Entry, error) {
	if z.err != nil {
		return nil, z.err
	}
	if z.cur != nil {
		if err := z.cur.finish(); err != nil {
			z.err = err
			return nil, err
		}
		z.cur = nil
	}
	sig, err := z.readSignature()
	if err != nil {
		z.err = err
		return nil, err
	}
	// Split archives may start with a spanning marker.
	if sig == dataDescriptorSignature && z.entries == 0 {
		if sig, err = z.readSignature(); err != nil {
			z.err = err
			return nil, err
		}
	}
	switch sig {
	case fileHeaderSignature:
	case directoryHeaderSignature, directoryEndSignature, directory64EndSignature:
		z.err = io.EOF
		return nil, io.EOF
	default:
		z.err = fmt.Errorf("%w: unexpected signature 0x%08x", ErrFormat, sig)
		return nil, z.err
	}
	e, err := z.readFileHeader()
	if err != nil {
		z.err = err
		return nil, err
	}
	cur, err := z.newEntryReader(e)
	if err != nil {
		z.err = err
		return nil, err
	}
	z.cur = cur
	z.entries++
	return e, nil
}

// Read reads from the current entry.
func (z *Reader) Read(p []byte) (int, error) {
	if z.cur == nil {
		return 0, io.EOF
	}
	return z.cur.Read(p)
}

func (z *Reader) readSignature() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(z.r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: reading signature: %w", ErrFormat, io.ErrUnexpectedEOF)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (z *Reader) readFileHeader() (*Entry, error) {
	var buf [fileHeaderLen]byte
	if _, err := io.ReadFull(z.r, buf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading file header: %w", ErrFormat, io.ErrUnexpectedEOF)
	}
	b := readBuf(buf[:])
	b.uint16() // version needed
	e := &Entry{flags: b.uint16(), Method: b.uint16()}
	modTime, modDate := b.uint16(), b.uint16()
	e.Modified = msDosTimeToTime(modDate, modTime)
	e.CRC32 = b.uint32()
	e.CompressedSize = uint64(b.uint32())
	e.UncompressedSize = uint64(b.uint32())
	nameLen, extraLen := int(b.uint16()), int(b.uint16())

	rest := make([]byte, nameLen+extraLen)
	if _, err := io.ReadFull(z.r, rest); err != nil {
		return nil, fmt.Errorf("%w: reading file name: %w", ErrFormat, io.ErrUnexpectedEOF)
	}
	e.Name = string(rest[:nameLen])
	parseZip64Extra(e, rest[nameLen:])

	if strings.HasSuffix(e.Name, "/") {
		e.Type = TypeDirectory
	}
	if !isLocalName(e.Name) {
		e.Err = fmt.Errorf("%w: %q", ErrInsecurePath, e.Name)
	}
	return e, nil
}

func parseZip64Extra(e *Entry, extra []byte) {
	needU := e.UncompressedSize == uint32max
	needC := e.CompressedSize == uint32max
	for len(extra) >= 4 {
		b := readBuf(extra)
		id, size := b.uint16(), int(b.uint16())
		extra = extra[4:]
		if size > len(extra) {
			return
		}
		field := extra[:size]
		extra = extra[size:]
		if id != zip64ExtraID {
			continue
		}
		e.zip64 = true
		if needU && len(field) >= 8 {
			e.UncompressedSize = binary.LittleEndian.Uint64(field)
			field = field[8:]
		} else if len(field) >= 16 {
			field = field[8:]
		}
		if needC && len(field) >= 8 {
			e.CompressedSize = binary.LittleEndian.Uint64(field)
		}
	}
}

func isLocalName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

func (z *Reader) newEntryReader(e *Entry) (*entryReader, error) {
	raw := &countingReader{r: z.r}
	er := &entryReader{z: z, e: e, raw: raw, hash: crc32.NewIEEE()}
	sized := !e.hasDataDescriptor()

	undecodable := func(cause error) (*entryReader, error) {
		if !sized {
			return nil, fmt.Errorf("%w: %q has no recorded size", cause, e.Name)
		}
		e.Err = fmt.Errorf("%w: %q", cause, e.Name)
		er.skip = true
		return er, nil
	}
	if e.flags&flagEncrypted != 0 {
		return undecodable(ErrEncrypted)
	}
	switch e.Method {
	case Store:
		if sized {
			er.src = io.LimitReader(raw, int64(e.CompressedSize))
		} else {
			er.src = &descriptorScanner{raw: raw, wide: e.zip64}
		}
	case Deflate:
		er.fl = flate.NewReader(raw)
		er.src = er.fl
	default:
		return undecodable(fmt.Errorf("%w: method %d", ErrAlgorithm, e.Method))
	}
	return er, nil
}

// entryReader decompresses one entry and verifies it at EOF.
type entryReader struct {
	z    *Reader
	e    *Entry
	raw  *countingReader
	src  io.Reader
	fl   io.ReadCloser
	hash hash.Hash32
	n    uint64
	skip bool
	err  error
}

func (er *entryReader) Read(p []byte) (int, error) {
	if er.err != nil {
		return 0, er.err
	}
	if er.skip {
		return 0, er.e.Err
	}
	n, err := er.src.Read(p)
	er.hash.Write(p[:n])
	er.n += uint64(n)
	switch {
	case err == io.EOF:
		err = er.complete()
	case errors.Is(err, io.ErrUnexpectedEOF):
		err = fmt.Errorf("%w: %q truncated: %w", ErrFormat, er.e.Name, err)
	case err != nil && er.fl != nil:
		err = fmt.Errorf("%w: %q: %w", ErrFormat, er.e.Name, err)
	}
	if err != nil {
		er.err = err
	}
	return n, err
}

func (er *entryReader) complete() error {
	e := er.e
	if er.fl != nil {
		er.fl.Close()
	}
	if e.hasDataDescriptor() {
		if err := er.z.readDataDescriptor(e, er.raw.n, er.n); err != nil {
			return err
		}
	}
	if er.raw.n != e.CompressedSize || er.n != e.UncompressedSize {
		return fmt.Errorf("%w: %q size mismatch (read %d/%d, recorded %d/%d)",
			ErrFormat, e.Name, er.raw.n, er.n, e.CompressedSize, e.UncompressedSize)
	}
	if sum := er.hash.Sum32(); sum != e.CRC32 {
		return fmt.Errorf("%w: %q crc32 0x%08x, recorded 0x%08x", ErrChecksum, e.Name, sum, e.CRC32)
	}
	return io.EOF
}

// finish positions the stream after the current entry. Only errors that
// leave the stream position unknown are returned.
func (er *entryReader) finish() error {
	if er.skip {
		if _, err := io.CopyN(io.Discard, er.z.r, int64(er.e.CompressedSize)); err != nil {
			return fmt.Errorf("%w: skipping %q: %w", ErrFormat, er.e.Name, io.ErrUnexpectedEOF)
		}
		return nil
	}
	if er.err == nil {
		io.Copy(io.Discard, er)
	}
	if er.err == io.EOF || errors.Is(er.err, ErrChecksum) {
		return nil
	}
	return er.err
}

func (z *Reader) readDataDescriptor(e *Entry, compressed, uncompressed uint64) error {
	if sig, err := z.r.Peek(4); err == nil && binary.LittleEndian.Uint32(sig) == dataDescriptorSignature {
		z.r.Discard(4)
	}
	sizeLen := 4
	if e.zip64 || compressed >= uint32max || uncompressed >= uint32max {
		sizeLen = 8
	}
	buf := make([]byte, 4+2*sizeLen)
	if _, err := io.ReadFull(z.r, buf); err != nil {
		return fmt.Errorf("%w: reading data descriptor of %q: %w", ErrFormat, e.Name, io.ErrUnexpectedEOF)
	}
	b := readBuf(buf)
	e.CRC32 = b.uint32()
	if sizeLen == 8 {
		e.CompressedSize, e.UncompressedSize = b.uint64(), b.uint64()
	} else {
		e.CompressedSize, e.UncompressedSize = uint64(b.uint32()), uint64(b.uint32())
	}
	return nil
}

// descriptorScanner reads a stored entry whose size is only recorded in the
// trailing data descriptor. A descriptor signature ends the entry only when the
// descriptor that follows agrees with the CRC-32 and length of the bytes before
// it, so payloads that happen to contain the signature are read through. The
// descriptor itself is left in the stream.
type descriptorScanner struct {
	raw  *countingReader
	wide bool
	crc  uint32
	done bool
}

func (d *descriptorScanner) Read(p []byte) (int, error) {
	if d.done {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	buf, err := d.raw.r.Peek(readBufferSize)
	if len(buf) == 0 {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	atEOF := err != nil
	limit := len(buf)
	if !atEOF {
		// a signature may straddle the end of the window
		limit -= 3
	}
	for from := 0; from < len(buf); {
		i := bytes.Index(buf[from:], dataDescriptorSig)
		if i < 0 {
			break
		}
		i += from
		buffered, ok := d.descriptorAt(buf, i)
		if !buffered {
			// not enough bytes buffered to check the candidate
			limit = i
			break
		}
		if ok {
			if i == 0 {
				d.done = true
				return 0, io.EOF
			}
			limit = i
			break
		}
		from = i + 1
	}
	if limit <= 0 {
		limit = 1
	}
	n := copy(p, buf[:limit])
	d.crc = crc32.Update(d.crc, crc32.IEEETable, buf[:n])
	d.raw.r.Discard(n)
	d.raw.n += uint64(n)
	return n, nil
}

// descriptorAt reports whether a full descriptor is buffered at i and, if so,
// whether it matches the bytes in front of it.
func (d *descriptorScanner) descriptorAt(buf []byte, i int) (buffered, ok bool) {
	size := d.raw.n + uint64(i)
	sizeLen := 4
	if d.wide || size >= uint32max {
		sizeLen = 8
	}
	if len(buf) < i+8+2*sizeLen {
		return false, false
	}
	b := readBuf(buf[i+4:])
	crc := b.uint32()
	var compressed, uncompressed uint64
	if sizeLen == 8 {
		compressed, uncompressed = b.uint64(), b.uint64()
	} else {
		compressed, uncompressed = uint64(b.uint32()), uint64(b.uint32())
	}
	if compressed != size || uncompressed != size {
		return true, false
	}
	return true, crc32.Update(d.crc, crc32.IEEETable, buf[:i]) == crc
}

// countingReader counts compressed bytes and keeps io.ByteReader available so
// the decompressor never reads past the end of its entry.
type countingReader struct {
	r *bufio.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

type readBuf []byte

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0,
		time.UTC,
	)
}
