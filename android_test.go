package bootimg

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"testing"
)

func writeAndroidImage(t *testing.T, format Format, pageSize uint32, kernel, ramdisk, second, dt []byte) *MemStream {
	t.Helper()

	s := NewMemStream()
	w, err := NewWriter(s, format)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	var h Header
	h.SetPageSize(pageSize)
	h.SetBoardName("")
	h.SetCmdline("")

	if err := w.WriteHeader(h); err != nil {
		t.Fatalf("write header: %v", err)
	}

	for _, seg := range []struct {
		typ  EntryType
		data []byte
	}{
		{EntryKernel, kernel},
		{EntryRamdisk, ramdisk},
		{EntrySecondboot, second},
		{EntryDeviceTree, dt},
	} {
		if _, err := w.GetEntry(); err != nil {
			t.Fatalf("get entry %v: %v", seg.typ, err)
		}
		if len(seg.data) > 0 {
			if _, err := w.WriteData(seg.data); err != nil {
				t.Fatalf("write data %v: %v", seg.typ, err)
			}
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	return s
}

func TestAndroidMinimalWriteMatchesExpectedLayout(t *testing.T) {
	kernel := bytes.Repeat([]byte{0xAA}, 0x400)
	ramdisk := bytes.Repeat([]byte{0xBB}, 0x100)

	s := writeAndroidImage(t, FormatAndroid, 2048, kernel, ramdisk, nil, nil)

	const wantLen = 2048 + 2048 + 2048 + 16
	if len(s.Bytes()) != wantLen {
		t.Fatalf("file length = %d, want %d", len(s.Bytes()), wantLen)
	}

	h := sha1.New()
	h.Write(kernel)
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(kernel)))
	h.Write(sizeBuf[:])
	h.Write(ramdisk)
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(ramdisk)))
	h.Write(sizeBuf[:])
	binary.LittleEndian.PutUint32(sizeBuf[:], 0)
	h.Write(sizeBuf[:])
	wantID := h.Sum(nil)

	var hdr androidHeader
	hdr.unmarshal(s.Bytes()[:androidHeaderSize])
	if !bytes.Equal(hdr.id[:], wantID) {
		t.Fatalf("id = %x, want %x", hdr.id[:], wantID)
	}

	if !bytes.Equal(s.Bytes()[wantLen-16:], samsungSEAndroidMagic) {
		t.Fatalf("trailer magic missing")
	}
}

func TestAndroidReadWriteRoundTrip(t *testing.T) {
	kernel := bytes.Repeat([]byte{0x11}, 300)
	ramdisk := bytes.Repeat([]byte{0x22}, 150)
	second := bytes.Repeat([]byte{0x33}, 50)

	s := writeAndroidImage(t, FormatAndroid, 2048, kernel, ramdisk, second, nil)

	if _, err := s.Seek(0, SeekSet); err != nil {
		t.Fatalf("seek: %v", err)
	}

	r := NewReader(s)
	h, err := r.ReadHeader()
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if format, ok := r.Format(); !ok || format != FormatAndroid {
		t.Fatalf("format = %v, ok=%v, want android", format, ok)
	}
	if h.PageSize == nil || *h.PageSize != 2048 {
		t.Fatalf("page size = %v, want 2048", h.PageSize)
	}

	wantSegs := map[EntryType][]byte{
		EntryKernel:  kernel,
		EntryRamdisk: ramdisk,
	}
	for {
		entry, err := r.ReadEntry()
		if err == ErrEndOfEntries {
			break
		}
		if err != nil {
			t.Fatalf("read entry: %v", err)
		}
		if entry.Type == EntrySecondboot {
			continue
		}

		buf := make([]byte, entry.Size)
		total := 0
		for total < len(buf) {
			n, rerr := r.ReadData(buf[total:])
			total += n
			if rerr != nil {
				t.Fatalf("read data: %v", rerr)
			}
			if n == 0 {
				break
			}
		}

		want, ok := wantSegs[entry.Type]
		if !ok {
			continue
		}
		if !bytes.Equal(buf, want) {
			t.Fatalf("segment %v mismatch", entry.Type)
		}
	}
}

func TestBiddingAndroidVsLoki(t *testing.T) {
	kernel := bytes.Repeat([]byte{0x11}, 16)
	ramdisk := bytes.Repeat([]byte{0x22}, 16)

	s := writeAndroidImage(t, FormatAndroid, 2048, kernel, ramdisk, nil, nil)

	if _, err := s.Seek(0, SeekSet); err != nil {
		t.Fatalf("seek: %v", err)
	}
	r := NewReader(s)
	if _, err := r.ReadHeader(); err != nil {
		t.Fatalf("read header: %v", err)
	}
	if format, _ := r.Format(); format != FormatAndroid {
		t.Fatalf("format = %v, want android when no LOKI magic present", format)
	}
}

func TestForcedLokiOnNonLokiImageFailsDistinctly(t *testing.T) {
	kernel := bytes.Repeat([]byte{0x11}, 16)
	ramdisk := bytes.Repeat([]byte{0x22}, 16)

	s := writeAndroidImage(t, FormatAndroid, 2048, kernel, ramdisk, nil, nil)
	if _, err := s.Seek(0, SeekSet); err != nil {
		t.Fatalf("seek: %v", err)
	}

	r, err := NewReaderWithFormat(s, FormatLoki)
	if err != nil {
		t.Fatalf("new reader with format: %v", err)
	}

	_, err = r.ReadHeader()
	if err != LokiErrorInvalidLokiMagic {
		t.Fatalf("err = %v, want LokiErrorInvalidLokiMagic", err)
	}
}
