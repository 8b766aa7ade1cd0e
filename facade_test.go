package bootimg

import "testing"

func TestReaderShortCircuitsOnFatalStream(t *testing.T) {
	kernel := []byte{0x11, 0x11}
	ramdisk := []byte{0x22, 0x22}
	s := writeAndroidImage(t, FormatAndroid, 2048, kernel, ramdisk, nil, nil)

	if _, err := s.Seek(0, SeekSet); err != nil {
		t.Fatalf("seek: %v", err)
	}

	r := NewReader(s)
	if _, err := r.ReadHeader(); err != nil {
		t.Fatalf("read header: %v", err)
	}

	if _, err := s.Seek(-1, SeekSet); err == nil {
		t.Fatal("expected a negative seek to fail")
	}
	if !s.IsFatal() {
		t.Fatal("stream should report fatal after a negative seek")
	}

	if _, err := r.ReadEntry(); err != ErrFatalState {
		t.Fatalf("err = %v, want ErrFatalState once the stream is fatal", err)
	}
	if _, err := r.ReadData(make([]byte, 1)); err != ErrFatalState {
		t.Fatalf("err = %v, want ErrFatalState on every subsequent call", err)
	}
}

func TestWriterShortCircuitsOnFatalStream(t *testing.T) {
	s := NewMemStream()
	w, err := NewWriter(s, FormatAndroid)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	var h Header
	h.SetPageSize(2048)
	if err := w.WriteHeader(h); err != nil {
		t.Fatalf("write header: %v", err)
	}

	if _, err := s.Seek(-1, SeekSet); err == nil {
		t.Fatal("expected a negative seek to fail")
	}
	if !s.IsFatal() {
		t.Fatal("stream should report fatal after a negative seek")
	}

	if _, err := w.GetEntry(); err != ErrFatalState {
		t.Fatalf("err = %v, want ErrFatalState once the stream is fatal", err)
	}
}

// TestWriterValidationFailureLeavesStateUsable covers the other half of the
// same contract: a validation error that never touches the stream must not
// poison the Writer, since the caller may just want to fix the header and
// retry WriteHeader.
func TestWriterValidationFailureLeavesStateUsable(t *testing.T) {
	s := NewMemStream()
	w, err := NewWriter(s, FormatAndroid)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	var bad Header
	if err := w.WriteHeader(bad); err != AndroidErrorMissingPageSize {
		t.Fatalf("err = %v, want AndroidErrorMissingPageSize", err)
	}
	if s.IsFatal() {
		t.Fatal("a validation-only error must not touch the stream")
	}

	var good Header
	good.SetPageSize(2048)
	if err := w.WriteHeader(good); err != nil {
		t.Fatalf("retry after a validation failure should succeed, got: %v", err)
	}
}
