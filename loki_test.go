package bootimg

import (
	"encoding/binary"
	"testing"
)

// buildLokiImageNew constructs a synthetic new-style Loki image: an
// Android header at offset 0 whose kernel/ramdisk sizes are irrelevant
// (the Loki header's orig_* fields are authoritative), plus a populated
// Loki header at 0x400, per scenario 3 in the spec's worked examples.
func buildLokiImageNew(t *testing.T, pageSize uint32, origKernelSize, origRamdiskSize, ramdiskAddr uint32) *MemStream {
	t.Helper()

	var hdr androidHeader
	copy(hdr.magic[:], bootMagic)
	hdr.pageSize = pageSize
	hdr.kernelAddr = 0x80208000

	// The recovery shellcode (when present) is searched for past the
	// header region, so the backing buffer needs room for it too.
	const shellcodeOffset = 0x1000
	bufLen := androidHeaderSize
	if lokiMagicOffset+lokiHeaderSize > bufLen {
		bufLen = lokiMagicOffset + lokiHeaderSize
	}
	if ramdiskAddr != 0 && shellcodeOffset+lokiShellcodeSize+16 > bufLen {
		bufLen = shellcodeOffset + lokiShellcodeSize + 16
	}
	buf := make([]byte, bufLen)
	copy(buf[0:androidHeaderSize], hdr.marshal())

	var loki lokiHeader
	copy(loki.magic[:], lokiMagic)
	loki.origKernelSize = origKernelSize
	loki.origRamdiskSize = origRamdiskSize
	loki.ramdiskAddr = ramdiskAddr

	lokiBuf := make([]byte, lokiHeaderSize)
	copy(lokiBuf[0:4], loki.magic[:])
	binary.LittleEndian.PutUint32(lokiBuf[4:], loki.build)
	binary.LittleEndian.PutUint32(lokiBuf[8:], loki.origKernelSize)
	binary.LittleEndian.PutUint32(lokiBuf[12:], loki.origRamdiskSize)
	binary.LittleEndian.PutUint32(lokiBuf[16:], loki.ramdiskAddr)
	copy(buf[lokiMagicOffset:], lokiBuf)

	if ramdiskAddr != 0 {
		// find_ramdisk_address recovers the real load address from a
		// shellcode copy embedded elsewhere in the patched image,
		// treating the Loki header's own ramdisk_addr field as the
		// bootloader-facing address rather than the original one.
		needle := lokiShellcode[:lokiShellcodeSize-9]
		copy(buf[shellcodeOffset:], needle)
		addrOffset := shellcodeOffset + uint64(lokiShellcodeSize) - 5
		binary.LittleEndian.PutUint32(buf[addrOffset:], ramdiskAddr)
	}

	return NewMemStreamFromBytes(buf)
}

func TestLokiBidOutscoresAndroidWhenBothMagicsPresent(t *testing.T) {
	s := buildLokiImageNew(t, 2048, 0x1000, 0x800, 0x81000000)

	r := NewReader(s)
	if _, err := r.ReadHeader(); err != nil {
		t.Fatalf("read header: %v", err)
	}
	if format, _ := r.Format(); format != FormatLoki {
		t.Fatalf("format = %v, want loki", format)
	}
}

func TestLokiNewStyleReadReportsRestoredSizesAndAddress(t *testing.T) {
	s := buildLokiImageNew(t, 2048, 0x1000, 0x800, 0x81000000)

	r, err := NewReaderWithFormat(s, FormatLoki)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}

	h, err := r.ReadHeader()
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if h.RamdiskAddr == nil || *h.RamdiskAddr != 0x81000000 {
		t.Fatalf("ramdisk addr = %v, want 0x81000000", h.RamdiskAddr)
	}
	if h.KernelAddr == nil || *h.KernelAddr != 0x80208000 {
		t.Fatalf("kernel addr = %v, want 0x80208000", h.KernelAddr)
	}

	var sawKernel, sawRamdisk bool
	for {
		entry, err := r.ReadEntry()
		if err == ErrEndOfEntries {
			break
		}
		if err != nil {
			t.Fatalf("read entry: %v", err)
		}
		switch entry.Type {
		case EntryKernel:
			sawKernel = true
			if entry.Size != 0x1000 {
				t.Fatalf("kernel size = %#x, want 0x1000", entry.Size)
			}
		case EntryRamdisk:
			sawRamdisk = true
			if entry.Size != 0x800 {
				t.Fatalf("ramdisk size = %#x, want 0x800", entry.Size)
			}
		case EntryDeviceTree:
			t.Fatal("unexpected device tree entry when dt_size == 0")
		}
	}
	if !sawKernel || !sawRamdisk {
		t.Fatalf("missing expected entries: kernel=%v ramdisk=%v", sawKernel, sawRamdisk)
	}
}

// buildLokiImageOld constructs a synthetic old-style Loki image per
// scenario 4: Loki header fields all zero, a Linux ARM kernel header with
// a size field at +0x2c, and a gzip magic with the "original filename"
// flags byte (0x08) at a chosen offset, followed by ramdisk bytes out to
// a trailing 0x200-byte aboot reservation.
func buildLokiImageOld(t *testing.T, pageSize uint32, kernelSize uint32, gzipOffset uint64, fileLen uint64) *MemStream {
	t.Helper()

	var hdr androidHeader
	copy(hdr.magic[:], bootMagic)
	hdr.pageSize = pageSize
	hdr.kernelAddr = 0x80208000

	buf := make([]byte, fileLen)
	copy(buf[0:androidHeaderSize], hdr.marshal())

	var loki lokiHeader
	copy(loki.magic[:], lokiMagic)
	lokiBuf := make([]byte, lokiHeaderSize)
	copy(lokiBuf[0:4], loki.magic[:])
	copy(buf[lokiMagicOffset:], lokiBuf)

	binary.LittleEndian.PutUint32(buf[uint64(pageSize)+0x2c:], kernelSize)

	buf[gzipOffset] = 0x1f
	buf[gzipOffset+1] = 0x8b
	buf[gzipOffset+2] = 0x08
	buf[gzipOffset+3] = 0x08 // flags: original filename present

	return NewMemStreamFromBytes(buf)
}

func TestLokiOldStyleReadRecoversRamdiskOffsetAndSize(t *testing.T) {
	const (
		pageSize   = 2048
		kernelSize = 0x1000
		gzipOffset = 0x1800
		fileLen    = 0x4200
	)

	s := buildLokiImageOld(t, pageSize, kernelSize, gzipOffset, fileLen)

	r, err := NewReaderWithFormat(s, FormatLoki)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}

	if _, err := r.ReadHeader(); err != nil {
		t.Fatalf("read header: %v", err)
	}

	entry, err := r.GoToEntry(EntryRamdisk)
	if err != nil {
		t.Fatalf("go to ramdisk: %v", err)
	}

	wantSize := uint64((fileLen - 0x200) - gzipOffset)
	if entry.Size != wantSize {
		t.Fatalf("ramdisk size = %#x, want %#x", entry.Size, wantSize)
	}
}

func TestLokiOldStylePrefersFlags08OverFlags00(t *testing.T) {
	const (
		pageSize   = 2048
		kernelSize = 0x100
		fileLen    = 0x3000
	)

	buf := make([]byte, fileLen)
	var hdr androidHeader
	copy(hdr.magic[:], bootMagic)
	hdr.pageSize = pageSize
	hdr.kernelAddr = 0x80208000
	copy(buf[0:androidHeaderSize], hdr.marshal())

	var lokiBuf [lokiHeaderSize]byte
	copy(lokiBuf[0:4], lokiMagic)
	copy(buf[lokiMagicOffset:], lokiBuf[:])

	binary.LittleEndian.PutUint32(buf[uint64(pageSize)+0x2c:], kernelSize)

	searchBase := uint64(pageSize) + uint64(kernelSize)
	flag0Offset := searchBase + 0x100
	flag8Offset := searchBase + 0x300

	buf[flag0Offset] = 0x1f
	buf[flag0Offset+1] = 0x8b
	buf[flag0Offset+2] = 0x08
	buf[flag0Offset+3] = 0x00

	buf[flag8Offset] = 0x1f
	buf[flag8Offset+1] = 0x8b
	buf[flag8Offset+2] = 0x08
	buf[flag8Offset+3] = 0x08

	s := NewMemStreamFromBytes(buf)

	off, err := findGzipOffsetOld(s, searchBase)
	if err != nil {
		t.Fatalf("find gzip offset: %v", err)
	}
	if off != flag8Offset {
		t.Fatalf("offset = %#x, want %#x (the flags=0x08 match)", off, flag8Offset)
	}
}

func TestLokiShellcodeSearchUsesLastMatch(t *testing.T) {
	needle := lokiShellcode[:lokiShellcodeSize-9]

	buf := make([]byte, 4096)
	firstAt := uint64(100)
	lastAt := uint64(3000)
	copy(buf[firstAt:], needle)
	copy(buf[lastAt:], needle)

	addrOffset := lastAt + uint64(lokiShellcodeSize) - 5
	for addrOffset+4 > uint64(len(buf)) {
		grown := make([]byte, len(buf)*2)
		copy(grown, buf)
		buf = grown
	}
	binary.LittleEndian.PutUint32(buf[addrOffset:], 0x81000000)

	s := NewMemStreamFromBytes(buf)

	var hdr androidHeader
	hdr.kernelAddr = 0x80208000
	var loki lokiHeader
	loki.ramdiskAddr = 0x1 // nonzero: force the shellcode search path

	addr, err := findRamdiskAddress(s, hdr, loki)
	if err != nil {
		t.Fatalf("find ramdisk address: %v", err)
	}
	if addr != 0x81000000 {
		t.Fatalf("addr = %#x, want 0x81000000 (from the last shellcode match)", addr)
	}
}

func TestLokiRamdiskAddressDefaultsToJflteOffset(t *testing.T) {
	var hdr androidHeader
	hdr.kernelAddr = 0x80208000
	var loki lokiHeader // ramdiskAddr == 0: no shellcode to search for

	s := NewMemStreamFromBytes(nil)
	addr, err := findRamdiskAddress(s, hdr, loki)
	if err != nil {
		t.Fatalf("find ramdisk address: %v", err)
	}
	if want := hdr.kernelAddr + jflteRamdiskOffset; addr != want {
		t.Fatalf("addr = %#x, want %#x", addr, want)
	}
}
