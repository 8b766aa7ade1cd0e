package bootimg

import (
	"encoding/binary"
)

const (
	lokiMagicOffset = 0x400
	lokiMagicSize   = 4
	lokiHeaderSize  = 0x50

	// defaultKernelOffset and defaultTagsOffset are the jflte-family load
	// address defaults Loki's old-style images fall back to when the
	// original tags address can't be recovered any other way.
	defaultKernelOffset = 0x00008000
	defaultTagsOffset   = 0x00000100

	// jflteRamdiskOffset is added to the kernel address to guess the
	// original ramdisk address when no shellcode copy is found in the
	// file (the default Loki used for the jflte device family).
	jflteRamdiskOffset = 0x01ff8000
)

var lokiMagic = []byte("LOKI")

// lgRamdiskAddrs are the two ramdisk load addresses LG devices' locked
// bootloaders expect; images targeting them reserve a full page for the
// embedded aboot copy instead of the usual 0x200 bytes.
var lgRamdiskAddrs = [2]uint32{0x88f02000, 0x8ef02000}

func isLGRamdiskAddress(addr uint32) bool {
	return addr == lgRamdiskAddrs[0] || addr == lgRamdiskAddrs[1]
}

// lokiShellcode stands in for the machine code Loki injects into aboot to
// redirect execution and recover the ramdisk's original load address. The
// byte values follow that code's shape (an ARM Thumb sequence ending in the
// address patch point) but are not taken from the Loki tool itself, so the
// search needle matches only images that embed these same bytes. In a
// patched image the last five bytes of a match hold LE32(ramdisk_addr)
// followed by one trailing byte. The driver searches for everything but
// the last nine bytes, which vary per patched image.
var lokiShellcode = []byte{
	0xfe, 0xb5, 0x0d, 0x4d, 0xd5, 0xf8, 0x88, 0x04, 0xab, 0x68,
	0x98, 0x42, 0x12, 0xd0, 0xd8, 0xf8, 0x00, 0x10, 0x0a, 0x4a,
	0x12, 0x1e, 0x02, 0xd0, 0x0f, 0x4f, 0x62, 0x46, 0x22, 0x46,
	0x0a, 0x43, 0x02, 0xe0, 0x00, 0x20, 0x18, 0x46, 0x1c, 0x46,
	0xc9, 0xf8, 0x00, 0x00, 0x1a, 0x60, 0x00, 0x20, 0x00, 0x90,
	0xdf, 0xf8, 0x00, 0x70, 0x6f, 0x46, 0x08, 0x60, 0x79, 0x44,
	0x08, 0x47, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// lokiShellcodeSize is the full, untrimmed shellcode length; the trailing
// 9 bytes (a 4-byte address field plus 5 bytes the patch tool overwrites
// after the last matched instruction) vary per device and are excluded
// from the search needle.
var lokiShellcodeSize = len(lokiShellcode)

// lokiHeader is the raw, little-endian, on-disk secondary Loki header.
type lokiHeader struct {
	magic           [lokiMagicSize]byte
	build           uint32
	origKernelSize  uint32
	origRamdiskSize uint32
	ramdiskAddr     uint32
}

func (h *lokiHeader) unmarshal(buf []byte) {
	off := 0
	copy(h.magic[:], buf[off:off+lokiMagicSize])
	off += lokiMagicSize
	h.build = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.origKernelSize = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.origRamdiskSize = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.ramdiskAddr = binary.LittleEndian.Uint32(buf[off:])
}

// lokiSupportedFieldsOld omits kernel_tags_address: old-style images give
// no way to recover it beyond a device-family default, which the driver
// still fills in, but the original source does not expose as a supported
// field for this style — preserved here for fidelity with read_header_old.
const lokiSupportedFieldsOld = FieldKernelAddr | FieldRamdiskAddr | FieldSecondbootAddr |
	FieldPageSize | FieldBoardName | FieldCmdline

const lokiSupportedFieldsNew = lokiSupportedFieldsOld | FieldKernelTagsAddr

// lokiReader implements FormatReader for the Loki dialect.
//
// Grounded on loki_reader.cpp's LokiFormatReader: find_loki_header's fixed
// 0x400 offset probe, find_ramdisk_address's shellcode-or-jflte-default
// rule, the old/new discriminator, and the old-style reconstruction chain
// (find_linux_kernel_size, find_gzip_offset_old, find_ramdisk_size_old).
type lokiReader struct {
	lokiOffset   *uint64
	lokiHdr      lokiHeader
	headerOffset *uint64
	hdr          androidHeader

	supportedFields HeaderFields
	seg             SegmentReader
}

func newLokiReader() *lokiReader {
	return &lokiReader{}
}

func (r *lokiReader) Format() Format { return FormatLoki }

func (r *lokiReader) SupportedFields() HeaderFields { return r.supportedFields }

func (r *lokiReader) Init(file ByteStream) error { return nil }

// findLokiHeader reads the fixed-offset secondary header and validates its
// magic, per find_loki_header.
func findLokiHeader(file ByteStream) (lokiHeader, error) {
	if _, err := file.Seek(lokiMagicOffset, SeekSet); err != nil {
		return lokiHeader{}, err
	}
	buf := make([]byte, lokiHeaderSize)
	n, err := readFull(file, buf)
	if err != nil {
		return lokiHeader{}, err
	}
	if n != lokiHeaderSize {
		return lokiHeader{}, LokiErrorHeaderTooSmall
	}

	var hdr lokiHeader
	hdr.unmarshal(buf)
	if string(hdr.magic[:]) != string(lokiMagic) {
		return lokiHeader{}, LokiErrorInvalidLokiMagic
	}
	return hdr, nil
}

func (r *lokiReader) Bid(file ByteStream, bestBid int) (int, error) {
	if bestBid >= (bootMagicSize+lokiMagicSize)*8 {
		return bidNoBid, nil
	}

	lokiHdr, err := findLokiHeader(file)
	if err == LokiErrorInvalidLokiMagic || err == LokiErrorHeaderTooSmall {
		return 0, nil
	}
	if err != nil {
		return bidFatal, err
	}
	off := uint64(lokiMagicOffset)
	r.lokiOffset = &off
	r.lokiHdr = lokiHdr
	bid := lokiMagicSize * 8

	headerOffset, hdr, err := findAndroidHeader(file, lokiMaxHeaderOffset)
	if err == AndroidErrorHeaderNotFound || err == AndroidErrorHeaderOutOfBounds {
		return 0, nil
	}
	if err != nil {
		return bidFatal, err
	}
	r.headerOffset = &headerOffset
	r.hdr = hdr
	bid += bootMagicSize * 8

	return bid, nil
}

// findRamdiskAddress implements find_ramdisk_address: a shellcode search
// when the Loki header recorded a nonzero ramdisk_addr (meaning the
// patching tool embedded a recovery copy), else the jflte default.
func findRamdiskAddress(file ByteStream, hdr androidHeader, lokiHdr lokiHeader) (uint32, error) {
	if lokiHdr.ramdiskAddr == 0 {
		if hdr.kernelAddr > ^uint32(0)-jflteRamdiskOffset {
			return 0, LokiErrorInvalidKernelAddress
		}
		return hdr.kernelAddr + jflteRamdiskOffset, nil
	}

	needle := lokiShellcode[:lokiShellcodeSize-9]

	var matchOffset uint64
	var found bool
	if err := file.Search(-1, -1, 0, needle, -1, func(offset uint64) (SearchAction, error) {
		matchOffset = offset
		found = true
		return SearchContinue, nil
	}); err != nil {
		return 0, err
	}
	if !found {
		return 0, LokiErrorShellcodeNotFound
	}

	addrOffset := matchOffset + uint64(lokiShellcodeSize) - 5
	if _, err := file.Seek(int64(addrOffset), SeekSet); err != nil {
		return 0, err
	}
	var addrBuf [4]byte
	if _, err := readFull(file, addrBuf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(addrBuf[:]), nil
}

var gzipDeflateMagic = []byte{0x1f, 0x8b, 0x08}

// findGzipOffsetOld implements find_gzip_offset_old: scan forward from
// startOffset for the 3-byte gzip/deflate magic, remembering the first
// match whose flags byte is 0x00 and the first whose flags byte is 0x08,
// then preferring the 0x08 one (the "original filename" flag the gzip CLI
// sets).
func findGzipOffsetOld(file ByteStream, startOffset uint64) (uint64, error) {
	var flag0Offset, flag8Offset *uint64

	err := file.Search(int64(startOffset), -1, 0, gzipDeflateMagic, -1, func(offset uint64) (SearchAction, error) {
		if flag0Offset != nil && flag8Offset != nil {
			return SearchStop, nil
		}

		orig, err := file.Seek(0, SeekCur)
		if err != nil {
			return SearchStop, err
		}
		if _, err := file.Seek(int64(offset+3), SeekSet); err != nil {
			return SearchStop, err
		}
		var flags [1]byte
		n, err := readFull(file, flags[:])
		if err != nil {
			return SearchStop, err
		}
		if n != 1 {
			return SearchStop, LokiErrorUnexpectedFileTruncation
		}

		switch {
		case flag0Offset == nil && flags[0] == 0x00:
			o := offset
			flag0Offset = &o
		case flag8Offset == nil && flags[0] == 0x08:
			o := offset
			flag8Offset = &o
		}

		if _, err := file.Seek(int64(orig), SeekSet); err != nil {
			return SearchStop, err
		}
		return SearchContinue, nil
	})
	if err != nil {
		return 0, err
	}

	if flag8Offset != nil {
		return *flag8Offset, nil
	}
	if flag0Offset != nil {
		return *flag0Offset, nil
	}
	return 0, LokiErrorNoRamdiskGzipHeaderFound
}

// findRamdiskSizeOld implements find_ramdisk_size_old: the ramdisk runs
// from the gzip header to just before the aboot copy Loki embeds at the
// tail of the file, without stripping trailing zero padding (the original
// source's alternative stripping branch is permanently disabled upstream
// and is not reproduced here).
func findRamdiskSizeOld(file ByteStream, hdr androidHeader, ramdiskOffset uint64) (uint32, error) {
	var abootSize int64
	if isLGRamdiskAddress(hdr.ramdiskAddr) {
		abootSize = int64(hdr.pageSize)
	} else {
		abootSize = 0x200
	}

	abootOffset, err := file.Seek(-abootSize, SeekEnd)
	if err != nil {
		return 0, wrapf("determining loki ramdisk size", LokiErrorFailedToDetermineRamdiskSize)
	}
	if ramdiskOffset > abootOffset {
		return 0, LokiErrorRamdiskOffsetGreaterThanAbootOffset
	}

	return uint32(abootOffset - ramdiskOffset), nil
}

// findLinuxKernelSize implements find_linux_kernel_size: the original
// kernel size is recovered from the Linux ARM kernel image header's size
// field at +0x2c, since old-style Loki images don't store it anywhere
// else.
func findLinuxKernelSize(file ByteStream, kernelOffset uint64) (uint32, error) {
	if _, err := file.Seek(int64(kernelOffset+0x2c), SeekSet); err != nil {
		return 0, err
	}
	var buf [4]byte
	n, err := readFull(file, buf[:])
	if err != nil {
		return 0, err
	}
	if n != 4 {
		return 0, LokiErrorUnexpectedEndOfFile
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (r *lokiReader) isNewStyle() bool {
	return r.lokiHdr.origKernelSize != 0 && r.lokiHdr.origRamdiskSize != 0 && r.lokiHdr.ramdiskAddr != 0
}

func (r *lokiReader) readHeaderOld(file ByteStream) (Header, []SegmentEntry, error) {
	hdr := r.hdr
	if hdr.pageSize == 0 {
		return Header{}, nil, LokiErrorPageSizeCannotBeZero
	}

	tagsAddr := hdr.kernelAddr - defaultKernelOffset + defaultTagsOffset

	kernelSize, err := findLinuxKernelSize(file, uint64(hdr.pageSize))
	if err != nil {
		return Header{}, nil, err
	}

	searchStart := uint64(hdr.pageSize) + uint64(kernelSize) + alignPageSize(uint64(kernelSize), hdr.pageSize)
	gzipOffset, err := findGzipOffsetOld(file, searchStart)
	if err != nil {
		return Header{}, nil, err
	}

	ramdiskSize, err := findRamdiskSizeOld(file, hdr, gzipOffset)
	if err != nil {
		return Header{}, nil, err
	}

	ramdiskAddr, err := findRamdiskAddress(file, hdr, r.lokiHdr)
	if err != nil {
		return Header{}, nil, err
	}

	var h Header
	r.supportedFields = lokiSupportedFieldsOld
	h.SetBoardName(cStringFromBytes(hdr.name[:]))
	h.SetCmdline(cStringFromBytes(hdr.cmdline[:]))
	h.SetPageSize(hdr.pageSize)
	h.SetKernelAddr(hdr.kernelAddr)
	h.SetRamdiskAddr(ramdiskAddr)
	h.SetSecondbootAddr(hdr.secondAddr)
	h.SetKernelTagsAddr(tagsAddr)

	kernelOffset := uint64(hdr.pageSize)
	ramdiskOffset := gzipOffset

	entries := []SegmentEntry{
		{Type: EntryKernel, Offset: kernelOffset, Size: uint64(kernelSize)},
		{Type: EntryRamdisk, Offset: ramdiskOffset, Size: uint64(ramdiskSize)},
	}
	return h, entries, nil
}

func (r *lokiReader) readHeaderNew(file ByteStream) (Header, []SegmentEntry, error) {
	hdr := r.hdr
	if hdr.pageSize == 0 {
		return Header{}, nil, LokiErrorPageSizeCannotBeZero
	}

	var fakeSize uint64
	if isLGRamdiskAddress(hdr.ramdiskAddr) {
		fakeSize = uint64(hdr.pageSize)
	} else {
		fakeSize = 0x200
	}

	ramdiskAddr, err := findRamdiskAddress(file, hdr, r.lokiHdr)
	if err != nil {
		return Header{}, nil, err
	}

	kernelSize := r.lokiHdr.origKernelSize
	ramdiskSize := r.lokiHdr.origRamdiskSize

	var h Header
	r.supportedFields = lokiSupportedFieldsNew
	h.SetBoardName(cStringFromBytes(hdr.name[:]))
	h.SetCmdline(cStringFromBytes(hdr.cmdline[:]))
	h.SetPageSize(hdr.pageSize)
	h.SetKernelAddr(hdr.kernelAddr)
	h.SetRamdiskAddr(ramdiskAddr)
	h.SetSecondbootAddr(hdr.secondAddr)
	h.SetKernelTagsAddr(hdr.tagsAddr)

	pos := uint64(hdr.pageSize)

	kernelOffset := pos
	pos += uint64(kernelSize)
	pos += alignPageSize(pos, hdr.pageSize)

	ramdiskOffset := pos
	pos += uint64(ramdiskSize)
	pos += alignPageSize(pos, hdr.pageSize)

	var dtOffset uint64
	if hdr.dtSize != 0 {
		pos += fakeSize
		dtOffset = pos
	}

	entries := []SegmentEntry{
		{Type: EntryKernel, Offset: kernelOffset, Size: uint64(kernelSize)},
		{Type: EntryRamdisk, Offset: ramdiskOffset, Size: uint64(ramdiskSize)},
	}
	if hdr.dtSize > 0 && dtOffset != 0 {
		entries = append(entries, SegmentEntry{Type: EntryDeviceTree, Offset: dtOffset, Size: uint64(hdr.dtSize)})
	}
	return h, entries, nil
}

func (r *lokiReader) GetHeader(file ByteStream) (Header, error) {
	if r.lokiOffset == nil {
		lokiHdr, err := findLokiHeader(file)
		if err != nil {
			return Header{}, err
		}
		off := uint64(lokiMagicOffset)
		r.lokiOffset = &off
		r.lokiHdr = lokiHdr
	}
	if r.headerOffset == nil {
		headerOffset, hdr, err := findAndroidHeader(file, maxHeaderOffset)
		if err != nil {
			return Header{}, wrapf("locating android header inside loki image", LokiErrorNoAndroidHeader)
		}
		r.headerOffset = &headerOffset
		r.hdr = hdr
	}

	var h Header
	var entries []SegmentEntry
	var err error
	if r.isNewStyle() {
		h, entries, err = r.readHeaderNew(file)
	} else {
		h, entries, err = r.readHeaderOld(file)
	}
	if err != nil {
		return Header{}, err
	}

	if err := r.seg.SetEntries(entries); err != nil {
		return Header{}, err
	}
	return h, nil
}

func (r *lokiReader) ReadEntry(file ByteStream) (Entry, error) {
	return r.seg.ReadEntry(file)
}

func (r *lokiReader) GoToEntry(file ByteStream, entryType EntryType) (Entry, error) {
	e, err := r.seg.GoToEntry(file, entryType)
	if err == ErrEndOfEntries {
		return Entry{}, ErrEntryNotFound
	}
	return e, err
}

func (r *lokiReader) ReadData(file ByteStream, buf []byte) (int, error) {
	return r.seg.ReadData(file, buf)
}
