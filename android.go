package bootimg

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
)

// androidHeaderSize is the on-disk size of androidHeader. Its fields take
// 8+4*10+16+512+20+1024 = 1620 bytes; the last 12 bytes are zero.
const androidHeaderSize = 1632

// androidHeader is the raw, little-endian, on-disk Android boot image
// header. It is read and written as a flat byte slice rather than via
// unsafe pointer casts, since Go gives no layout guarantee over struct
// fields the way C does.
type androidHeader struct {
	magic        [bootMagicSize]byte
	kernelSize   uint32
	kernelAddr   uint32
	ramdiskSize  uint32
	ramdiskAddr  uint32
	secondSize   uint32
	secondAddr   uint32
	tagsAddr     uint32
	pageSize     uint32
	dtSize       uint32
	unused       uint32
	name         [bootNameSize]byte
	cmdline      [bootArgsSize]byte
	id           [bootIDSize]byte
	extraCmdline [bootExtraArgsSize]byte
}

func (h *androidHeader) marshal() []byte {
	buf := make([]byte, androidHeaderSize)
	off := 0
	off += copy(buf[off:], h.magic[:])
	binary.LittleEndian.PutUint32(buf[off:], h.kernelSize)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.kernelAddr)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.ramdiskSize)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.ramdiskAddr)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.secondSize)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.secondAddr)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.tagsAddr)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.pageSize)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.dtSize)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.unused)
	off += 4
	off += copy(buf[off:], h.name[:])
	off += copy(buf[off:], h.cmdline[:])
	off += copy(buf[off:], h.id[:])
	off += copy(buf[off:], h.extraCmdline[:])
	return buf
}

func (h *androidHeader) unmarshal(buf []byte) {
	off := 0
	copy(h.magic[:], buf[off:off+bootMagicSize])
	off += bootMagicSize
	h.kernelSize = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.kernelAddr = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.ramdiskSize = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.ramdiskAddr = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.secondSize = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.secondAddr = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.tagsAddr = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.pageSize = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.dtSize = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.unused = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	copy(h.name[:], buf[off:off+bootNameSize])
	off += bootNameSize
	copy(h.cmdline[:], buf[off:off+bootArgsSize])
	off += bootArgsSize
	copy(h.id[:], buf[off:off+bootIDSize])
	off += bootIDSize
	copy(h.extraCmdline[:], buf[off:off+bootExtraArgsSize])
}

// cStringFromBytes returns the NUL-terminated string stored in buf, or the
// whole buffer if it carries no terminator.
func cStringFromBytes(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}

// putCString copies s into buf, NUL-terminated, failing if s (plus the
// terminator) doesn't fit.
func putCString(buf []byte, s string) bool {
	if len(s) >= len(buf) {
		return false
	}
	copy(buf, s)
	for i := len(s); i < len(buf); i++ {
		buf[i] = 0
	}
	return true
}

// androidSupportedFields is shared by both the Android and Bump drivers;
// neither dialect exposes the on-disk "unused" field.
const androidSupportedFields = FieldKernelAddr | FieldRamdiskAddr | FieldSecondbootAddr |
	FieldKernelTagsAddr | FieldPageSize | FieldBoardName | FieldCmdline | FieldID

// androidReader implements FormatReader for both the Android and Bump
// dialects. Neither variant inspects the trailer magic, so the two parse
// identically and differ only in which Format value they report.
//
// Grounded on android_reader.cpp's AndroidFormatReader: find_header's
// page-aligned magic scan, read_header's running-offset segment layout
// calculation, and the can_truncate=true treatment of the device tree
// segment.
type androidReader struct {
	format Format

	headerOffset *uint64
	hdr          androidHeader
	seg          SegmentReader
}

func newAndroidReader(format Format) *androidReader {
	return &androidReader{format: format}
}

func (r *androidReader) Format() Format { return r.format }

func (r *androidReader) SupportedFields() HeaderFields { return androidSupportedFields }

// androidMagicBits is the confidence, in bits, an Android/Bump bid reports
// on a match: one bit per byte of the 8-byte magic.
const androidMagicBits = bootMagicSize * 8

func (r *androidReader) Bid(file ByteStream, bestBid int) (int, error) {
	if bestBid >= androidMagicBits {
		return bidNoBid, nil
	}

	offset, hdr, err := findAndroidHeader(file, maxHeaderOffset)
	if err == AndroidErrorHeaderNotFound || err == AndroidErrorHeaderOutOfBounds {
		return 0, nil
	}
	if err != nil {
		return bidFatal, err
	}

	if r.format == FormatBump {
		if !bytes.Equal(hdr.magic[:], []byte(bootMagic)) {
			return 0, nil
		}
		// Bump images share the Android magic and the trailer is not
		// checked, so the Bump driver bids the same score. When the
		// Android driver has already bid, bestBid equals that score and
		// the check at the top returns bidNoBid, so Android wins.
	}

	r.headerOffset = &offset
	r.hdr = hdr
	return androidMagicBits, nil
}

func (r *androidReader) Init(file ByteStream) error {
	return nil
}

// findAndroidHeader scans the whole stream for the 8-byte Android magic,
// then checks whether the match lies within cap before parsing the header
// that follows it.
func findAndroidHeader(file ByteStream, cap uint64) (uint64, androidHeader, error) {
	var found uint64
	var ok bool

	err := file.Search(0, -1, 0, []byte(bootMagic), 1,
		func(offset uint64) (SearchAction, error) {
			found = offset
			ok = true
			return SearchStop, nil
		})
	if err != nil {
		return 0, androidHeader{}, err
	}
	if !ok {
		return 0, androidHeader{}, AndroidErrorHeaderNotFound
	}
	if found > cap {
		return 0, androidHeader{}, AndroidErrorHeaderOutOfBounds
	}

	if _, err := file.Seek(int64(found), SeekSet); err != nil {
		return 0, androidHeader{}, err
	}
	buf := make([]byte, androidHeaderSize)
	if _, err := readFull(file, buf); err != nil {
		return 0, androidHeader{}, err
	}

	var hdr androidHeader
	hdr.unmarshal(buf)
	return found, hdr, nil
}

func (r *androidReader) GetHeader(file ByteStream) (Header, error) {
	if r.headerOffset == nil {
		offset, hdr, err := findAndroidHeader(file, maxHeaderOffset)
		if err != nil {
			return Header{}, err
		}
		r.headerOffset = &offset
		r.hdr = hdr
	}

	if !isAllowedPageSize(r.hdr.pageSize) {
		return Header{}, AndroidErrorInvalidPageSize
	}

	var h Header
	h.SetKernelAddr(r.hdr.kernelAddr)
	h.SetRamdiskAddr(r.hdr.ramdiskAddr)
	h.SetSecondbootAddr(r.hdr.secondAddr)
	h.SetKernelTagsAddr(r.hdr.tagsAddr)
	h.SetPageSize(r.hdr.pageSize)
	h.SetBoardName(cStringFromBytes(r.hdr.name[:]))
	cmdline := cStringFromBytes(r.hdr.cmdline[:])
	if extra := cStringFromBytes(r.hdr.extraCmdline[:]); extra != "" {
		cmdline += extra
	}
	h.SetCmdline(cmdline)
	var id [bootIDSize]byte
	copy(id[:], r.hdr.id[:])
	h.SetID(id)

	pos := *r.headerOffset + androidHeaderSize
	pos += alignPageSize(pos, r.hdr.pageSize)

	kernelOffset := pos
	pos += uint64(r.hdr.kernelSize)
	pos += alignPageSize(pos, r.hdr.pageSize)

	ramdiskOffset := pos
	pos += uint64(r.hdr.ramdiskSize)
	pos += alignPageSize(pos, r.hdr.pageSize)

	secondOffset := pos
	pos += uint64(r.hdr.secondSize)
	pos += alignPageSize(pos, r.hdr.pageSize)

	dtOffset := pos

	entries := []SegmentEntry{
		{Type: EntryKernel, Offset: kernelOffset, Size: uint64(r.hdr.kernelSize)},
		{Type: EntryRamdisk, Offset: ramdiskOffset, Size: uint64(r.hdr.ramdiskSize)},
	}
	if r.hdr.secondSize > 0 {
		entries = append(entries, SegmentEntry{Type: EntrySecondboot, Offset: secondOffset, Size: uint64(r.hdr.secondSize)})
	}
	if r.hdr.dtSize > 0 {
		entries = append(entries, SegmentEntry{
			Type: EntryDeviceTree, Offset: dtOffset, Size: uint64(r.hdr.dtSize), CanTruncate: true,
		})
	}

	if err := r.seg.SetEntries(entries); err != nil {
		return Header{}, err
	}
	return h, nil
}

func (r *androidReader) ReadEntry(file ByteStream) (Entry, error) {
	return r.seg.ReadEntry(file)
}

func (r *androidReader) GoToEntry(file ByteStream, entryType EntryType) (Entry, error) {
	e, err := r.seg.GoToEntry(file, entryType)
	if err == ErrEndOfEntries {
		return Entry{}, ErrEntryNotFound
	}
	return e, err
}

func (r *androidReader) ReadData(file ByteStream, buf []byte) (int, error) {
	return r.seg.ReadData(file, buf)
}

// androidWriter implements FormatWriter for the Android and Bump dialects.
//
// Grounded on android_writer.cpp: four fixed segment slots in a known
// order, a running SHA-1 fed by write_data and the per-segment LE32 size
// (skipped for an empty device tree) in finish_entry, and close's
// remembered _file_size retry cache and trailer-magic placement.
type androidWriter struct {
	format Format

	hdr      androidHeader
	pageSize uint32
	seg      SegmentWriter
	hash     hash20
	fileSize *uint64
	finished bool
}

// hash20 is a running SHA-1 accumulator, kept as its own tiny type so the
// writer doesn't need to import crypto/sha1's hash.Hash interface directly
// in its struct literal.
type hash20 struct {
	h interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
	}
}

func newHash20() hash20 {
	return hash20{h: sha1.New()}
}

func (h hash20) write(buf []byte) error {
	if _, err := h.h.Write(buf); err != nil {
		return AndroidErrorSha1UpdateError
	}
	return nil
}

func (h hash20) sum() [bootIDSize]byte {
	var out [bootIDSize]byte
	copy(out[:], h.h.Sum(nil))
	return out
}

func newAndroidWriter(format Format) *androidWriter {
	return &androidWriter{format: format, hash: newHash20()}
}

func (w *androidWriter) Format() Format { return w.format }

func (w *androidWriter) SupportedFields() HeaderFields { return androidSupportedFields }

func (w *androidWriter) Init(file ByteStream) error {
	return nil
}

func (w *androidWriter) SetHeader(header Header) error {
	if header.PageSize == nil {
		return AndroidErrorMissingPageSize
	}
	if !isAllowedPageSize(*header.PageSize) {
		return AndroidErrorInvalidPageSize
	}

	var hdr androidHeader
	copy(hdr.magic[:], bootMagic)

	if header.KernelAddr != nil {
		hdr.kernelAddr = *header.KernelAddr
	}
	if header.RamdiskAddr != nil {
		hdr.ramdiskAddr = *header.RamdiskAddr
	}
	if header.SecondbootAddr != nil {
		hdr.secondAddr = *header.SecondbootAddr
	}
	if header.KernelTagsAddr != nil {
		hdr.tagsAddr = *header.KernelTagsAddr
	}
	hdr.pageSize = *header.PageSize

	if header.BoardName != nil {
		boardName := *header.BoardName
		if bytes.IndexByte([]byte(boardName), 0) >= 0 {
			return AndroidErrorHeaderSetFieldsFailed
		}
		if !putCString(hdr.name[:], boardName) {
			return AndroidErrorBoardNameTooLong
		}
	}
	if header.Cmdline != nil {
		cmdline := *header.Cmdline
		if bytes.IndexByte([]byte(cmdline), 0) >= 0 {
			return AndroidErrorHeaderSetFieldsFailed
		}
		if len(cmdline) < bootArgsSize {
			putCString(hdr.cmdline[:], cmdline)
		} else if len(cmdline) < bootArgsSize+bootExtraArgsSize-1 {
			putCString(hdr.cmdline[:], cmdline[:bootArgsSize-1])
			putCString(hdr.extraCmdline[:], cmdline[bootArgsSize-1:])
		} else {
			return AndroidErrorKernelCmdlineTooLong
		}
	}

	w.hdr = hdr
	w.pageSize = hdr.pageSize
	w.hash = newHash20()
	w.fileSize = nil
	w.finished = false

	align := []uint32{w.pageSize, w.pageSize, w.pageSize, w.pageSize}
	entries := []SegmentEntry{
		{Type: EntryKernel},
		{Type: EntryRamdisk},
		{Type: EntrySecondboot},
		{Type: EntryDeviceTree},
	}
	return w.seg.SetEntries(entries, align)
}

func (w *androidWriter) GetEntry(file ByteStream) (Entry, error) {
	if err := w.FinishEntry(file); err != nil {
		return Entry{}, err
	}
	entry, err := w.seg.GetEntry(file)
	if err != nil {
		return Entry{}, err
	}
	w.finished = false
	return entry, nil
}

func (w *androidWriter) WriteEntry(file ByteStream, entry Entry) error {
	return w.seg.WriteEntry(entry)
}

func (w *androidWriter) WriteData(file ByteStream, buf []byte) (int, error) {
	n, err := w.seg.WriteData(file, buf)
	if err != nil {
		return n, err
	}
	if err := w.hash.write(buf[:n]); err != nil {
		return n, err
	}
	return n, nil
}

// FinishEntry pads the currently open segment to a page boundary, records
// its final size, and folds LE32(size) into the running hash unless the
// segment is an empty device tree — mirroring finish_entry's hash-feed
// rule from android_writer.cpp. It is a no-op if there is no open segment
// or it has already been finished.
func (w *androidWriter) FinishEntry(file ByteStream) error {
	if w.finished {
		return nil
	}
	entry, ok := w.seg.Entry()
	if !ok {
		return nil
	}
	if err := w.seg.FinishEntry(file); err != nil {
		return err
	}
	w.finished = true
	entry, _ = w.seg.Entry()

	if entry.Type == EntryDeviceTree && entry.Size == 0 {
		return nil
	}
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(entry.Size))
	return w.hash.write(sizeBuf[:])
}

// trailerMagic returns the trailer bytes this dialect appends on close.
func (w *androidWriter) trailerMagic() []byte {
	if w.format == FormatBump {
		return bumpMagic
	}
	return samsungSEAndroidMagic
}

func (w *androidWriter) Close(file ByteStream) error {
	if err := w.FinishEntry(file); err != nil {
		return err
	}

	var fileSize uint64
	if w.fileSize != nil {
		fileSize = *w.fileSize
	} else {
		pos, err := file.Seek(0, SeekCur)
		if err != nil {
			return err
		}
		fileSize = pos
		w.fileSize = &fileSize
	}

	if _, err := file.Seek(int64(fileSize), SeekSet); err != nil {
		return err
	}

	trailer := w.trailerMagic()
	if _, err := writeFull(file, trailer); err != nil {
		return err
	}

	for _, e := range w.seg.Entries() {
		switch e.Type {
		case EntryKernel:
			w.hdr.kernelSize = uint32(e.Size)
		case EntryRamdisk:
			w.hdr.ramdiskSize = uint32(e.Size)
		case EntrySecondboot:
			w.hdr.secondSize = uint32(e.Size)
		case EntryDeviceTree:
			w.hdr.dtSize = uint32(e.Size)
		}
	}
	w.hdr.id = w.hash.sum()

	headerBuf := w.hdr.marshal()
	if _, err := file.Seek(0, SeekSet); err != nil {
		return err
	}
	if _, err := writeFull(file, headerBuf); err != nil {
		return err
	}

	return nil
}
