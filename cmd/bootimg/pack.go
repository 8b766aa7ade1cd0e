package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	bootimg "github.com/122slavo122/bootimg"
)

func runPack(args []string) error {
	var outPath string
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	fs.StringVarP(&outPath, "output", "o", "", "Path to write the packed boot image to.")
	fs.Parse(args)

	inDir, err := resolveInputPath(fs.Args())
	if err != nil {
		return err
	}
	if outPath == "" {
		outPath = filepath.Clean(inDir) + ".img"
	}

	metaFile, err := os.Open(filepath.Join(inDir, "meta.json"))
	if err != nil {
		return err
	}
	var meta unpackMeta
	if err := json.NewDecoder(metaFile).Decode(&meta); err != nil {
		metaFile.Close()
		return err
	}
	metaFile.Close()

	var format bootimg.Format
	switch meta.Format {
	case bootimg.FormatBump.String():
		format = bootimg.FormatBump
	default:
		format = bootimg.FormatAndroid
	}

	var header bootimg.Header
	if meta.PageSize != nil {
		header.SetPageSize(*meta.PageSize)
	}
	if meta.BoardName != nil {
		header.SetBoardName(*meta.BoardName)
	}
	if meta.Cmdline != nil {
		header.SetCmdline(*meta.Cmdline)
	}
	if meta.KernelAddr != nil {
		header.SetKernelAddr(*meta.KernelAddr)
	}
	if meta.RamdiskAddr != nil {
		header.SetRamdiskAddr(*meta.RamdiskAddr)
	}
	if meta.SecondbootAddr != nil {
		header.SetSecondbootAddr(*meta.SecondbootAddr)
	}
	if meta.KernelTagsAddr != nil {
		header.SetKernelTagsAddr(*meta.KernelTagsAddr)
	}

	out, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	stream := bootimg.NewFileStream(out)
	writer, err := bootimg.NewWriter(stream, format)
	if err != nil {
		return err
	}

	if err := writer.WriteHeader(header); err != nil {
		return err
	}

	entryTypes := []bootimg.EntryType{
		bootimg.EntryKernel, bootimg.EntryRamdisk, bootimg.EntrySecondboot, bootimg.EntryDeviceTree,
	}
	for _, et := range entryTypes {
		if _, err := writer.GetEntry(); err != nil {
			return err
		}

		segPath := filepath.Join(inDir, et.String()+".img")
		data, err := os.ReadFile(segPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if _, err := writer.WriteData(data); err != nil {
			return err
		}
	}

	if err := writer.Close(); err != nil {
		return err
	}

	fmt.Printf("packed to %s\n", outPath)
	return nil
}
