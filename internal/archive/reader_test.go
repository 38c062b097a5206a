package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"hash/crc32"
	"io"
	"math/rand"
	"testing"
)

type testFile struct {
	name string
	body string
}

func buildZip(t *testing.T, files []testFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			t.Fatalf("create %s: %v", f.name, err)
		}
		if _, err := io.WriteString(w, f.body); err != nil {
			t.Fatalf("write %s: %v", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func writeRaw(t *testing.T, zw *zip.Writer, name string, method uint16, body []byte, crc uint32) {
	t.Helper()
	w, err := zw.CreateRaw(&zip.FileHeader{
		Name:               name,
		Method:             method,
		CRC32:              crc,
		CompressedSize64:   uint64(len(body)),
		UncompressedSize64: uint64(len(body)),
	})
	if err != nil {
		t.Fatalf("create raw %s: %v", name, err)
	}
	if _, err := w.Write(body); err != nil {
		t.Fatalf("write raw %s: %v", name, err)
	}
}

func TestReaderEntries(t *testing.T) {
	data := buildZip(t, []testFile{
		{"a.csv", "id,name\n1,alpha\n"},
		{"sub/", ""},
		{"sub/b.csv", "id,name\n2,beta\n"},
	})
	zr := NewReader(bytes.NewReader(data))

	want := []struct {
		name string
		typ  EntryType
		body string
	}{
		{"a.csv", TypeFile, "id,name\n1,alpha\n"},
		{"sub/", TypeDirectory, ""},
		{"sub/b.csv", TypeFile, "id,name\n2,beta\n"},
	}
	for _, w := range want {
		e, err := zr.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if e.Name != w.name || e.Type != w.typ {
			t.Fatalf("entry = %s (%s), want %s (%s)", e.Name, e.Type, w.name, w.typ)
		}
		got, err := io.ReadAll(zr)
		if err != nil {
			t.Fatalf("read %s: %v", e.Name, err)
		}
		if string(got) != w.body {
			t.Fatalf("body of %s = %q, want %q", e.Name, got, w.body)
		}
		if e.UncompressedSize != uint64(len(w.body)) {
			t.Fatalf("size of %s = %d", e.Name, e.UncompressedSize)
		}
	}
	if _, err := zr.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if zr.Entries() != 3 {
		t.Fatalf("entries = %d", zr.Entries())
	}
}

func TestReaderSkipsUnreadEntries(t *testing.T) {
	big := bytes.Repeat([]byte("0123456789abcdef"), 64*1024)
	data := buildZip(t, []testFile{
		{"big.bin", string(big)},
		{"small.txt", "tail"},
	})
	zr := NewReader(bytes.NewReader(data))
	if _, err := zr.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	// read only part of the first entry
	if _, err := io.ReadFull(zr, make([]byte, 100)); err != nil {
		t.Fatalf("partial read: %v", err)
	}
	e, err := zr.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	got, _ := io.ReadAll(zr)
	if e.Name != "small.txt" || string(got) != "tail" {
		t.Fatalf("got %s %q", e.Name, got)
	}
}

func TestReaderStoredAndUnsupportedEntries(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	stored := []byte("stored bytes")
	writeRaw(t, zw, "stored.txt", zip.Store, stored, crc32.ChecksumIEEE(stored))
	writeRaw(t, zw, "odd.bin", 99, []byte("opaque"), 0)
	writeRaw(t, zw, "bad.txt", zip.Store, []byte("corrupt"), 1234)
	w, _ := zw.Create("last.txt")
	io.WriteString(w, "last")
	zw.Close()

	zr := NewReader(bytes.NewReader(buf.Bytes()))

	e, err := zr.Next()
	if err != nil || e.Method != Store {
		t.Fatalf("stored entry: %v %+v", err, e)
	}
	if got, err := io.ReadAll(zr); err != nil || string(got) != "stored bytes" {
		t.Fatalf("stored body: %q %v", got, err)
	}

	e, err = zr.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !errors.Is(e.Err, ErrAlgorithm) {
		t.Fatalf("expected ErrAlgorithm, got %v", e.Err)
	}
	if _, err := io.ReadAll(zr); !errors.Is(err, ErrAlgorithm) {
		t.Fatalf("read of unsupported entry: %v", err)
	}

	if _, err = zr.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if _, err := io.ReadAll(zr); !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}

	e, err = zr.Next()
	if err != nil {
		t.Fatalf("next after checksum error: %v", err)
	}
	if got, _ := io.ReadAll(zr); e.Name != "last.txt" || string(got) != "last" {
		t.Fatalf("last entry %s %q", e.Name, got)
	}
}

func TestReaderStoredWithDataDescriptor(t *testing.T) {
	// payload carries a descriptor signature that does not end the entry
	tricky := append([]byte("head"), 0x50, 0x4b, 0x07, 0x08)
	tricky = append(tricky, bytes.Repeat([]byte("x"), 40)...)
	big := bytes.Repeat([]byte("fec-bulk-row|"), 20000)
	files := []testFile{
		{"a.csv", "id,name\n1,alpha\n"},
		{"tricky.bin", string(tricky)},
		{"empty.txt", ""},
		{"sub/b.csv", string(big)},
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.name, Method: zip.Store})
		if err != nil {
			t.Fatalf("create %s: %v", f.name, err)
		}
		io.WriteString(w, f.body)
	}
	zw.Close()

	zr := NewReader(bytes.NewReader(buf.Bytes()))
	for _, f := range files {
		e, err := zr.Next()
		if err != nil {
			t.Fatalf("next (want %s): %v", f.name, err)
		}
		if e.Name != f.name || e.Method != Store || e.Err != nil {
			t.Fatalf("entry = %+v", e)
		}
		got, err := io.ReadAll(zr)
		if err != nil {
			t.Fatalf("read %s: %v", f.name, err)
		}
		if string(got) != f.body {
			t.Fatalf("body of %s differs: %d bytes, want %d", f.name, len(got), len(f.body))
		}
		if e.UncompressedSize != uint64(len(f.body)) || e.CRC32 != crc32.ChecksumIEEE([]byte(f.body)) {
			t.Fatalf("descriptor of %s: size %d crc 0x%08x", f.name, e.UncompressedSize, e.CRC32)
		}
	}
	if _, err := zr.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReaderStoredWithDataDescriptorTruncated(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.CreateHeader(&zip.FileHeader{Name: "cut.txt", Method: zip.Store})
	io.WriteString(w, "never finished")
	zw.Close()
	data := buf.Bytes()[:30+len("cut.txt")+5]

	zr := NewReader(bytes.NewReader(data))
	if _, err := zr.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if _, err := io.ReadAll(zr); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
}

func TestReaderInsecurePath(t *testing.T) {
	data := buildZip(t, []testFile{
		{"../evil.txt", "nope"},
		{"ok.txt", "fine"},
	})
	zr := NewReader(bytes.NewReader(data))
	e, err := zr.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !errors.Is(e.Err, ErrInsecurePath) {
		t.Fatalf("expected ErrInsecurePath, got %v", e.Err)
	}
	e, err = zr.Next()
	if err != nil || e.Name != "ok.txt" || e.Err != nil {
		t.Fatalf("next: %v %+v", err, e)
	}
}

func TestReaderTruncated(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	payload := make([]byte, 256*1024)
	rnd.Read(payload)
	data := buildZip(t, []testFile{{"random.bin", string(payload)}})
	zr := NewReader(bytes.NewReader(data[:len(data)/2]))
	if _, err := zr.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if _, err := io.ReadAll(zr); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
	if _, err := zr.Next(); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected sticky ErrFormat, got %v", err)
	}
}

func TestReaderRejectsGarbage(t *testing.T) {
	zr := NewReader(bytes.NewReader([]byte("definitely not a zip archive")))
	if _, err := zr.Next(); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
}

func TestReaderEmptyArchive(t *testing.T) {
	zr := NewReader(bytes.NewReader(buildZip(t, nil)))
	if _, err := zr.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
