// Package bootimg reads and writes Android-family boot images: the
// page-aligned kernel+ramdisk containers flashed to a device's boot
// partition.
//
// The package auto-detects which dialect an input stream holds (plain
// Android or Loki) via a bidding protocol, then exposes a linear
// Reader/Writer walk over the image's segments. A Bump image bids exactly
// like a plain Android one and is detected as Android; NewReaderWithFormat
// with FormatBump reads it as Bump. It does not interpret
// kernels or ramdisks, does not decompress, and does not sign images.
package bootimg
