package bootimg

// writerState mirrors readerState on the write side: New → Header
// (SetHeader done) → Entry (GetEntry done, ready for WriteData) → Data
// (mid-write) → Closed. Fatal absorbs every state once the underlying
// stream reports IsFatal; a validation error otherwise leaves the state
// where it was.
type writerState int

const (
	writerStateNew writerState = iota
	writerStateHeader
	writerStateEntry
	writerStateData
	writerStateClosed
	writerStateFatal
)

// Writer drives the write side of a single dialect for a ByteStream,
// grounded on the write half of reader.cpp/writer.cpp's facade pattern:
// a linear state machine delegating every call to one selected
// FormatWriter, with Close doing the dialect's final header/trailer pass.
type Writer struct {
	file   ByteStream
	state  writerState
	driver FormatWriter
}

// NewWriter creates a Writer that will emit the given format. Loki is not
// selectable here: this package has no Loki write path, and NewWriter
// returns LokiErrorWriteUnsupported for FormatLoki.
func NewWriter(file ByteStream, format Format) (*Writer, error) {
	factory, ok := writerFactories[format]
	if !ok {
		if format == FormatLoki {
			return nil, LokiErrorWriteUnsupported
		}
		return nil, ErrNoFormatMatched
	}
	return &Writer{file: file, driver: factory()}, nil
}

// fail only latches the Fatal state when the underlying stream itself
// reports a fault; a validation error (bad page size, oversized board
// name, ...) leaves the Writer usable so the caller can fix the header and
// retry the same call.
func (w *Writer) fail(err error) error {
	if err != nil && w.file.IsFatal() {
		w.state = writerStateFatal
	}
	return err
}

// SupportedFields reports which Header fields the selected dialect can
// represent.
func (w *Writer) SupportedFields() HeaderFields {
	return w.driver.SupportedFields()
}

// WriteHeader validates and stages header for writing.
func (w *Writer) WriteHeader(header Header) error {
	if w.state == writerStateFatal || w.file.IsFatal() {
		w.state = writerStateFatal
		return ErrFatalState
	}
	if w.state != writerStateNew {
		return ErrFormatAlreadySet
	}

	if err := w.driver.Init(w.file); err != nil {
		return w.fail(err)
	}
	if err := w.driver.SetHeader(header); err != nil {
		return w.fail(err)
	}

	pageSize := header.PageSize
	if pageSize == nil {
		return w.fail(AndroidErrorMissingPageSize)
	}
	if _, err := w.file.Seek(int64(*pageSize), SeekSet); err != nil {
		return w.fail(err)
	}

	w.state = writerStateHeader
	return nil
}

// GetEntry advances to the next segment slot to be written.
func (w *Writer) GetEntry() (Entry, error) {
	if w.state == writerStateFatal || w.file.IsFatal() {
		w.state = writerStateFatal
		return Entry{}, ErrFatalState
	}
	if w.state != writerStateHeader && w.state != writerStateEntry && w.state != writerStateData {
		return Entry{}, ErrFatalState
	}

	entry, err := w.driver.GetEntry(w.file)
	if err != nil {
		return Entry{}, w.fail(err)
	}
	if err := w.driver.WriteEntry(w.file, entry); err != nil {
		return Entry{}, w.fail(err)
	}

	w.state = writerStateEntry
	return entry, nil
}

// WriteData writes bytes into the currently selected segment.
func (w *Writer) WriteData(buf []byte) (int, error) {
	if w.state == writerStateFatal || w.file.IsFatal() {
		w.state = writerStateFatal
		return 0, ErrFatalState
	}
	if w.state != writerStateEntry && w.state != writerStateData {
		return 0, ErrFatalState
	}

	n, err := w.driver.WriteData(w.file, buf)
	if err != nil {
		return n, w.fail(err)
	}
	w.state = writerStateData
	return n, nil
}

// Close finalizes the image: the selected driver rewrites the header now
// that every segment's true size and running hash are known, and appends
// the dialect's trailer magic. Close must be called exactly once, after
// every segment the dialect requires has been written.
func (w *Writer) Close() error {
	if w.state == writerStateFatal || w.file.IsFatal() {
		w.state = writerStateFatal
		return ErrFatalState
	}
	if w.state == writerStateClosed {
		return ErrFormatAlreadySet
	}

	if err := w.driver.Close(w.file); err != nil {
		return w.fail(err)
	}
	w.state = writerStateClosed
	return nil
}
