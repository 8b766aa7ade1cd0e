package main

import (
	"fmt"
	"os"

	"github.com/cespare/xxhash"
	flag "github.com/spf13/pflag"

	bootimg "github.com/122slavo122/bootimg"
)

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(args)

	path, err := resolveInputPath(fs.Args())
	if err != nil {
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
	fmt.Printf("format:       %s\n", format)
	if header.PageSize != nil {
		fmt.Printf("page size:    %d\n", *header.PageSize)
	}
	if header.BoardName != nil {
		fmt.Printf("board name:   %q\n", *header.BoardName)
	}
	if header.Cmdline != nil {
		fmt.Printf("cmdline:      %q\n", *header.Cmdline)
	}
	if header.KernelAddr != nil {
		fmt.Printf("kernel addr:  0x%08x\n", *header.KernelAddr)
	}
	if header.RamdiskAddr != nil {
		fmt.Printf("ramdisk addr: 0x%08x\n", *header.RamdiskAddr)
	}
	if header.SecondbootAddr != nil {
		fmt.Printf("second addr:  0x%08x\n", *header.SecondbootAddr)
	}
	if header.KernelTagsAddr != nil {
		fmt.Printf("tags addr:    0x%08x\n", *header.KernelTagsAddr)
	}
	if header.ID != nil {
		fmt.Printf("id (sha1):    %x\n", *header.ID)
	}

	fmt.Println("segments:")
	for {
		entry, err := reader.ReadEntry()
		if err == bootimg.ErrEndOfEntries {
			break
		}
		if err != nil {
			return err
		}

		digest := xxhash.New()
		buf := make([]byte, 64*1024)
		var total uint64
		for {
			n, err := reader.ReadData(buf)
			if n > 0 {
				digest.Write(buf[:n])
				total += uint64(n)
			}
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
		}

		fmt.Printf("  %-12s size=%-10d xxhash=%016x\n", entry.Type, total, digest.Sum64())
	}

	return nil
}
