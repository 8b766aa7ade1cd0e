package bootimg

// HeaderFields is a bitset naming which optional Header fields a format
// driver can represent. Each driver reports its set through
// SupportedFields (Writer.SupportedFields exposes the selected writer's) so
// callers know which pointer fields may legitimately be nil.
type HeaderFields uint32

const (
	FieldKernelAddr HeaderFields = 1 << iota
	FieldRamdiskAddr
	FieldSecondbootAddr
	FieldKernelTagsAddr
	FieldPageSize
	FieldBoardName
	FieldCmdline
	FieldID
)

// Has reports whether every bit set in want is also set in f.
func (f HeaderFields) Has(want HeaderFields) bool {
	return f&want == want
}

// Header is the dialect-independent boot image header: the union of every
// field any supported driver can populate. A driver that doesn't support a
// given field leaves its pointer nil; Writer rejects an attempt to write a
// Header with a nil pointer in a field its chosen driver requires.
type Header struct {
	KernelAddr     *uint32
	RamdiskAddr    *uint32
	SecondbootAddr *uint32
	KernelTagsAddr *uint32
	PageSize       *uint32
	BoardName      *string
	Cmdline        *string
	ID             *[bootIDSize]byte
}

func u32ptr(v uint32) *uint32 { return &v }
func strptr(v string) *string { return &v }

// SetKernelAddr sets the kernel load address.
func (h *Header) SetKernelAddr(addr uint32) { h.KernelAddr = u32ptr(addr) }

// SetRamdiskAddr sets the ramdisk load address.
func (h *Header) SetRamdiskAddr(addr uint32) { h.RamdiskAddr = u32ptr(addr) }

// SetSecondbootAddr sets the second-stage bootloader load address.
func (h *Header) SetSecondbootAddr(addr uint32) { h.SecondbootAddr = u32ptr(addr) }

// SetKernelTagsAddr sets the ATAGS/DTB pass-through address.
func (h *Header) SetKernelTagsAddr(addr uint32) { h.KernelTagsAddr = u32ptr(addr) }

// SetPageSize sets the page size used for segment alignment.
func (h *Header) SetPageSize(size uint32) { h.PageSize = u32ptr(size) }

// SetBoardName sets the board name field.
func (h *Header) SetBoardName(name string) { h.BoardName = strptr(name) }

// SetCmdline sets the kernel command line.
func (h *Header) SetCmdline(cmdline string) { h.Cmdline = strptr(cmdline) }

// SetID sets the 20-byte identity hash.
func (h *Header) SetID(id [bootIDSize]byte) { h.ID = &id }
