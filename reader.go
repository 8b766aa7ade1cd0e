package bootimg

// readerState names where a Reader sits in its linear walk: New (nothing
// read yet) → Header (ReadHeader done) → Entry (positioned on a segment,
// ready for data) → Data (mid-read on a segment). Fatal absorbs every
// state once the underlying stream reports IsFatal; a driver returning a
// validation error otherwise leaves the state where it was.
type readerState int

const (
	readerStateNew readerState = iota
	readerStateHeader
	readerStateEntry
	readerStateData
	readerStateFatal
)

// Reader drives the read side of the bidding protocol and the
// header/entry/data walk for a single ByteStream, grounded on reader.cpp's
// Reader: enable_format_* registers candidate drivers, ReadHeader runs the
// bidding (or honors a forced driver), and every subsequent call delegates
// to the winning FormatReader.
type Reader struct {
	file    ByteStream
	state   readerState
	drivers []FormatReader
	forced  FormatReader
	winner  FormatReader
}

// NewReader creates a Reader with every known format driver registered and
// enabled for bidding.
func NewReader(file ByteStream) *Reader {
	r := &Reader{file: file}
	for _, factory := range readerFactories {
		r.drivers = append(r.drivers, factory())
	}
	return r
}

// NewReaderWithFormat creates a Reader that skips bidding entirely and
// always uses the given format, failing at ReadHeader time if the stream
// doesn't actually match it.
func NewReaderWithFormat(file ByteStream, format Format) (*Reader, error) {
	for _, factory := range readerFactories {
		d := factory()
		if d.Format() == format {
			return &Reader{file: file, forced: d}, nil
		}
	}
	return nil, ErrNoFormatMatched
}

// fail only latches the Fatal state when the underlying stream itself
// reports a fault; a driver-level validation error leaves the Reader in
// its prior state so the caller can retry or switch drivers.
func (r *Reader) fail(err error) error {
	if err != nil && r.file.IsFatal() {
		r.state = readerStateFatal
	}
	return err
}

// bid runs the bidding protocol across every registered driver, breaking
// ties in registration order, per the facade's documented contract.
func (r *Reader) bid() (FormatReader, error) {
	best := -1
	var winner FormatReader

	for _, d := range r.drivers {
		if _, err := r.file.Seek(0, SeekSet); err != nil {
			return nil, err
		}

		score, err := d.Bid(r.file, best)
		if score == bidFatal {
			return nil, err
		}
		if score == bidNoBid {
			continue
		}
		if score > best {
			best = score
			winner = d
		}
	}

	if winner == nil || best < 1 {
		return nil, ErrNoFormatMatched
	}
	return winner, nil
}

// ReadHeader runs format detection (unless a format was forced) and
// returns the image's dialect-independent header.
func (r *Reader) ReadHeader() (Header, error) {
	if r.state == readerStateFatal || r.file.IsFatal() {
		r.state = readerStateFatal
		return Header{}, ErrFatalState
	}
	if r.state != readerStateNew {
		return Header{}, ErrFormatAlreadySet
	}

	var winner FormatReader
	if r.forced != nil {
		winner = r.forced
	} else {
		var err error
		winner, err = r.bid()
		if err != nil {
			return Header{}, r.fail(err)
		}
	}

	if _, err := r.file.Seek(0, SeekSet); err != nil {
		return Header{}, r.fail(err)
	}
	if err := winner.Init(r.file); err != nil {
		return Header{}, r.fail(err)
	}

	header, err := winner.GetHeader(r.file)
	if err != nil {
		return Header{}, r.fail(err)
	}

	r.winner = winner
	r.state = readerStateHeader
	return header, nil
}

// Format reports which dialect was detected (or forced).
func (r *Reader) Format() (Format, bool) {
	if r.winner != nil {
		return r.winner.Format(), true
	}
	if r.forced != nil {
		return r.forced.Format(), true
	}
	return 0, false
}

// ReadEntry advances to the next segment and returns its type and size.
func (r *Reader) ReadEntry() (Entry, error) {
	if r.state == readerStateFatal || r.file.IsFatal() {
		r.state = readerStateFatal
		return Entry{}, ErrFatalState
	}
	if r.state != readerStateHeader && r.state != readerStateEntry && r.state != readerStateData {
		return Entry{}, ErrFatalState
	}

	entry, err := r.winner.ReadEntry(r.file)
	if err != nil {
		return Entry{}, r.fail(err)
	}
	r.state = readerStateEntry
	return entry, nil
}

// GoToEntry seeks directly to the named segment type, skipping any
// segments in between.
func (r *Reader) GoToEntry(entryType EntryType) (Entry, error) {
	if r.state == readerStateFatal || r.file.IsFatal() {
		r.state = readerStateFatal
		return Entry{}, ErrFatalState
	}
	if r.state != readerStateHeader && r.state != readerStateEntry && r.state != readerStateData {
		return Entry{}, ErrFatalState
	}

	entry, err := r.winner.GoToEntry(r.file, entryType)
	if err != nil {
		if err == ErrEntryNotFound {
			return Entry{}, err
		}
		return Entry{}, r.fail(err)
	}
	r.state = readerStateEntry
	return entry, nil
}

// ReadData reads bytes from the currently selected segment.
func (r *Reader) ReadData(buf []byte) (int, error) {
	if r.state == readerStateFatal || r.file.IsFatal() {
		r.state = readerStateFatal
		return 0, ErrFatalState
	}
	if r.state != readerStateEntry && r.state != readerStateData {
		return 0, ErrFatalState
	}

	n, err := r.winner.ReadData(r.file, buf)
	if err != nil {
		return n, r.fail(err)
	}
	r.state = readerStateData
	return n, nil
}
