package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	bootimg "github.com/122slavo122/bootimg"
)

// unpackMeta is the JSON sidecar unpack writes and pack reads back, enough
// to reconstruct an equivalent Header without re-deriving dialect-specific
// defaults.
type unpackMeta struct {
	Format         string  `json:"format"`
	PageSize       *uint32 `json:"page_size,omitempty"`
	BoardName      *string `json:"board_name,omitempty"`
	Cmdline        *string `json:"cmdline,omitempty"`
	KernelAddr     *uint32 `json:"kernel_addr,omitempty"`
	RamdiskAddr    *uint32 `json:"ramdisk_addr,omitempty"`
	SecondbootAddr *uint32 `json:"secondboot_addr,omitempty"`
	KernelTagsAddr *uint32 `json:"kernel_tags_addr,omitempty"`
}

func runUnpack(args []string) error {
	var outDir string
	fs := flag.NewFlagSet("unpack", flag.ExitOnError)
	fs.StringVarP(&outDir, "output", "o", "", "Directory to unpack segments and metadata into.")
	fs.Parse(args)

	path, err := resolveInputPath(fs.Args())
	if err != nil {
		return err
	}
	if outDir == "" {
		outDir = path + "-unpacked"
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stream := bootimg.NewFileStream(f)
	reader := bootimg.NewReader(stream)

	header, err := reader.ReadHeader()
	if err != nil {
		return err
	}
	format, _ := reader.Format()

	meta := unpackMeta{
		Format:         format.String(),
		PageSize:       header.PageSize,
		BoardName:      header.BoardName,
		Cmdline:        header.Cmdline,
		KernelAddr:     header.KernelAddr,
		RamdiskAddr:    header.RamdiskAddr,
		SecondbootAddr: header.SecondbootAddr,
		KernelTagsAddr: header.KernelTagsAddr,
	}

	for {
		entry, err := reader.ReadEntry()
		if err == bootimg.ErrEndOfEntries {
			break
		}
		if err != nil {
			return err
		}

		segPath := filepath.Join(outDir, entry.Type.String()+".img")
		out, err := os.Create(segPath)
		if err != nil {
			return err
		}

		buf := make([]byte, 64*1024)
		for {
			n, rerr := reader.ReadData(buf)
			if n > 0 {
				if _, werr := out.Write(buf[:n]); werr != nil {
					out.Close()
					return werr
				}
			}
			if rerr != nil {
				out.Close()
				return rerr
			}
			if n == 0 {
				break
			}
		}
		out.Close()
	}

	metaFile, err := os.Create(filepath.Join(outDir, "meta.json"))
	if err != nil {
		return err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return err
	}

	fmt.Printf("unpacked to %s\n", outDir)
	return nil
}
