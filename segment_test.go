package bootimg

import (
	"bytes"
	"testing"
)

func TestSegmentReaderWalksEntriesInOrder(t *testing.T) {
	data := make([]byte, 0, 64)
	data = append(data, bytes.Repeat([]byte{0xAA}, 10)...)
	data = append(data, bytes.Repeat([]byte{0xBB}, 20)...)
	s := NewMemStreamFromBytes(data)

	r := NewSegmentReader()
	if err := r.SetEntries([]SegmentEntry{
		{Type: EntryKernel, Offset: 0, Size: 10},
		{Type: EntryRamdisk, Offset: 10, Size: 20},
	}); err != nil {
		t.Fatalf("set entries: %v", err)
	}

	e, err := r.ReadEntry(s)
	if err != nil || e.Type != EntryKernel || e.Size != 10 {
		t.Fatalf("read kernel entry: %+v %v", e, err)
	}
	buf := make([]byte, 10)
	if _, err := r.ReadData(s, buf); err != nil {
		t.Fatalf("read kernel data: %v", err)
	}
	if !bytes.Equal(buf, bytes.Repeat([]byte{0xAA}, 10)) {
		t.Fatalf("kernel data mismatch: %x", buf)
	}

	e, err = r.ReadEntry(s)
	if err != nil || e.Type != EntryRamdisk || e.Size != 20 {
		t.Fatalf("read ramdisk entry: %+v %v", e, err)
	}

	if _, err := r.ReadEntry(s); err != ErrEndOfEntries {
		t.Fatalf("expected ErrEndOfEntries, got %v", err)
	}
}

func TestSegmentReaderGoToEntrySkipsAhead(t *testing.T) {
	data := make([]byte, 30)
	s := NewMemStreamFromBytes(data)

	r := NewSegmentReader()
	if err := r.SetEntries([]SegmentEntry{
		{Type: EntryKernel, Offset: 0, Size: 10},
		{Type: EntryRamdisk, Offset: 10, Size: 20},
	}); err != nil {
		t.Fatalf("set entries: %v", err)
	}

	e, err := r.GoToEntry(s, EntryRamdisk)
	if err != nil || e.Type != EntryRamdisk {
		t.Fatalf("go to ramdisk: %+v %v", e, err)
	}

	if _, err := r.GoToEntry(s, EntrySecondboot); err != ErrEndOfEntries {
		t.Fatalf("expected ErrEndOfEntries for missing type, got %v", err)
	}
}

func TestSegmentReaderRejectsDuplicateTypes(t *testing.T) {
	r := NewSegmentReader()
	err := r.SetEntries([]SegmentEntry{
		{Type: EntryKernel, Offset: 0, Size: 1},
		{Type: EntryKernel, Offset: 1, Size: 1},
	})
	if err != ErrDuplicateEntryType {
		t.Fatalf("expected ErrDuplicateEntryType, got %v", err)
	}
}

func TestSegmentReaderTruncationRules(t *testing.T) {
	data := []byte{1, 2, 3}
	s := NewMemStreamFromBytes(data)

	r := NewSegmentReader()
	if err := r.SetEntries([]SegmentEntry{
		{Type: EntryDeviceTree, Offset: 0, Size: 10, CanTruncate: true},
	}); err != nil {
		t.Fatalf("set entries: %v", err)
	}
	if _, err := r.ReadEntry(s); err != nil {
		t.Fatalf("read entry: %v", err)
	}

	buf := make([]byte, 10)
	n, err := r.ReadData(s, buf)
	if err != nil {
		t.Fatalf("truncated read should not fail: %v", err)
	}
	if n != 3 {
		t.Fatalf("got %d bytes, want 3", n)
	}
}

func TestSegmentWriterPadsToPageBoundary(t *testing.T) {
	s := NewMemStream()

	w := NewSegmentWriter()
	if err := w.SetEntries([]SegmentEntry{
		{Type: EntryKernel},
		{Type: EntryRamdisk},
	}, []uint32{16, 16}); err != nil {
		t.Fatalf("set entries: %v", err)
	}

	if _, err := w.GetEntry(s); err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if _, err := w.WriteData(s, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write data: %v", err)
	}
	if err := w.FinishEntry(s); err != nil {
		t.Fatalf("finish entry: %v", err)
	}

	entries := w.Entries()
	if entries[0].Size != 3 {
		t.Fatalf("kernel size = %d, want 3", entries[0].Size)
	}

	if _, err := w.GetEntry(s); err != nil {
		t.Fatalf("get second entry: %v", err)
	}
	if entries[1].Offset != 16 {
		t.Fatalf("ramdisk offset = %d, want 16 (page-aligned)", entries[1].Offset)
	}

	if len(s.Bytes()) != 16 {
		t.Fatalf("stream length after padding = %d, want 16", len(s.Bytes()))
	}
}
