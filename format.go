package bootimg

// Format names one of the dialects this package understands.
type Format int

const (
	// FormatAndroid is the plain Android boot image layout, optionally
	// trailed by the Samsung SEAndroid magic.
	FormatAndroid Format = iota + 1
	// FormatBump is the Android layout with the Bump post-processor's
	// trailer magic in place of the Samsung one.
	FormatBump
	// FormatLoki is the Loki-patched layout used on locked Samsung/LG
	// devices, identified by the secondary "LOKI" header at offset 0x400.
	FormatLoki
)

func (f Format) String() string {
	switch f {
	case FormatAndroid:
		return "android"
	case FormatBump:
		return "bump"
	case FormatLoki:
		return "loki"
	default:
		return "unknown"
	}
}

// bidNoBid tells the facade this driver is certain it cannot read/write the
// stream and should be skipped without counting against the running best
// bid.
const bidNoBid = -2

// bidFatal tells the facade the driver hit an unrecoverable I/O error while
// probing and the whole operation must abort.
const bidFatal = -1

// FormatReader is the read-side half of a format driver: it bids on
// whether a stream matches its dialect, then — once selected — walks the
// stream's header and segments.
type FormatReader interface {
	// Format returns which dialect this driver implements.
	Format() Format

	// Bid inspects file (positioned at offset 0 by the facade; drivers
	// seek to whatever else they need) and returns a non-negative
	// confidence score in bits, bidNoBid, or bidFatal.
	Bid(file ByteStream, bestBid int) (int, error)

	// Init is called once on the winning driver before any Header/Entry
	// call. The Android, Bump and Loki drivers do no work here; Loki's
	// reconstruction runs in GetHeader.
	Init(file ByteStream) error

	// SupportedFields reports which Header fields this driver can
	// populate.
	SupportedFields() HeaderFields

	// GetHeader parses and returns the image's dialect-independent
	// header.
	GetHeader(file ByteStream) (Header, error)

	// ReadEntry advances to the next typed segment.
	ReadEntry(file ByteStream) (Entry, error)

	// GoToEntry seeks directly to the named segment type.
	GoToEntry(file ByteStream, entryType EntryType) (Entry, error)

	// ReadData reads bytes from the currently selected segment.
	ReadData(file ByteStream, buf []byte) (int, error)
}

// FormatWriter is the write-side half of a format driver.
type FormatWriter interface {
	// Format returns which dialect this driver implements.
	Format() Format

	// Init is called once before any header/entry call.
	Init(file ByteStream) error

	// SupportedFields reports which Header fields this driver requires or
	// accepts.
	SupportedFields() HeaderFields

	// SetHeader validates and stages the dialect-independent header for
	// writing.
	SetHeader(header Header) error

	// GetEntry advances to the next segment slot to be written.
	GetEntry(file ByteStream) (Entry, error)

	// WriteEntry confirms the slot about to be filled.
	WriteEntry(file ByteStream, entry Entry) error

	// WriteData writes bytes into the currently selected segment.
	WriteData(file ByteStream, buf []byte) (int, error)

	// FinishEntry pads the currently selected segment out to the next
	// page boundary, records its final size, and folds that size into any
	// running identity hash. The Writer facade does not call it; the
	// Android/Bump driver calls it from its own GetEntry, before moving to
	// the next slot, and from its Close, for the last segment.
	FinishEntry(file ByteStream) error

	// Close finalizes the image: this is where the Android/Bump driver
	// computes and emits the header now that every segment's true size is
	// known, and appends the trailer magic.
	Close(file ByteStream) error
}

// readerFactories lists every FormatReader this package knows how to
// construct, in registration order. The facade's bidding tie-break favors
// whichever driver appears earlier in this slice.
var readerFactories = []func() FormatReader{
	func() FormatReader { return newAndroidReader(FormatAndroid) },
	func() FormatReader { return newAndroidReader(FormatBump) },
	func() FormatReader { return newLokiReader() },
}

// writerFactories lists every FormatWriter this package knows how to
// construct. There is no Loki entry: Writer never constructs a Loki
// writer automatically, since Loki's write path requires shellcode
// patching this package does not implement (see Reader/Writer docs).
var writerFactories = map[Format]func() FormatWriter{
	FormatAndroid: func() FormatWriter { return newAndroidWriter(FormatAndroid) },
	FormatBump:    func() FormatWriter { return newAndroidWriter(FormatBump) },
}
