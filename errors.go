package bootimg

import (
	"errors"

	"github.com/hashicorp/errwrap"
)

// AndroidError enumerates the ways the Android/Bump driver can reject an
// image or a caller's input. Sha1InitError from the kind's reference
// taxonomy has no equivalent here: crypto/sha1's New() has no fallible path
// to report, so there is nothing to wire it to (see DESIGN.md).
type AndroidError int

const (
	AndroidErrorHeaderNotFound AndroidError = iota
	AndroidErrorHeaderOutOfBounds
	AndroidErrorHeaderSetFieldsFailed
	AndroidErrorMissingPageSize
	AndroidErrorInvalidPageSize
	AndroidErrorBoardNameTooLong
	AndroidErrorKernelCmdlineTooLong
	AndroidErrorSha1UpdateError
)

func (e AndroidError) Error() string {
	switch e {
	case AndroidErrorHeaderNotFound:
		return "android magic not found in this stream"
	case AndroidErrorHeaderOutOfBounds:
		return "android header not found within the allowed search range"
	case AndroidErrorHeaderSetFieldsFailed:
		return "one or more fields could not be applied to the android header"
	case AndroidErrorMissingPageSize:
		return "header has no page size set"
	case AndroidErrorInvalidPageSize:
		return "android header declares an unsupported page size"
	case AndroidErrorBoardNameTooLong:
		return "board name is too long for the android header"
	case AndroidErrorKernelCmdlineTooLong:
		return "command line is too long for the android header"
	case AndroidErrorSha1UpdateError:
		return "failed to update the running identity hash"
	default:
		return "unknown android error"
	}
}

// LokiError enumerates the ways the Loki driver can fail to bid on or
// reconstruct an image.
type LokiError int

const (
	LokiErrorHeaderTooSmall LokiError = iota
	LokiErrorInvalidLokiMagic
	LokiErrorNoAndroidHeader
	LokiErrorShellcodeNotFound
	LokiErrorUnexpectedEndOfFile
	LokiErrorInvalidKernelAddress
	LokiErrorPageSizeCannotBeZero
	LokiErrorNoRamdiskGzipHeaderFound
	LokiErrorRamdiskOffsetGreaterThanAbootOffset
	LokiErrorFailedToDetermineRamdiskSize
	LokiErrorUnexpectedFileTruncation
	LokiErrorWriteUnsupported
)

func (e LokiError) Error() string {
	switch e {
	case LokiErrorHeaderTooSmall:
		return "loki header is truncated at its fixed offset"
	case LokiErrorInvalidLokiMagic:
		return "loki magic not present at the expected offset"
	case LokiErrorNoAndroidHeader:
		return "could not locate the original android header inside a loki image"
	case LokiErrorShellcodeNotFound:
		return "could not find the ramdisk-address recovery shellcode"
	case LokiErrorUnexpectedEndOfFile:
		return "reached end of file while reading a fixed-size field"
	case LokiErrorInvalidKernelAddress:
		return "kernel address is too high to derive a default ramdisk address from"
	case LokiErrorPageSizeCannotBeZero:
		return "android header embedded in this loki image declares a page size of zero"
	case LokiErrorNoRamdiskGzipHeaderFound:
		return "could not locate a gzip header for the loki ramdisk"
	case LokiErrorRamdiskOffsetGreaterThanAbootOffset:
		return "ramdisk offset lies past the embedded aboot copy"
	case LokiErrorFailedToDetermineRamdiskSize:
		return "could not determine the loki-patched ramdisk size"
	case LokiErrorUnexpectedFileTruncation:
		return "file is truncated where a complete read was expected"
	case LokiErrorWriteUnsupported:
		return "writing loki-format images is not supported"
	default:
		return "unknown loki error"
	}
}

// ErrEntryNotFound is returned by GoToEntry when no segment of the
// requested type exists in the image.
var ErrEntryNotFound = errors.New("no segment of the requested type in this image")

// ErrNoFormatMatched is returned by Reader.ReadHeader when every registered
// format driver declined to bid on the stream.
var ErrNoFormatMatched = errors.New("no boot image format matched this stream")

// ErrFormatAlreadySet is returned when ReadHeader or WriteHeader is called a
// second time on the same Reader or Writer, or when Close is called on a
// Writer that is already closed.
var ErrFormatAlreadySet = errors.New("format already selected for this reader or writer")

// ErrFatalState is returned by any facade call made once the underlying
// stream reports itself fatal; per the facade state machine, a fatal stream
// is unrecoverable and the facade must not be used again.
var ErrFatalState = errors.New("reader or writer is in a fatal, unusable state")

// wrapf is a tiny adapter over errwrap.Wrapf used throughout the format
// drivers, keeping the "{{err}}" templating convention in one place.
func wrapf(msg string, err error) error {
	if err == nil {
		return nil
	}
	return errwrap.Wrapf(msg+": {{err}}", err)
}
