package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gzip "github.com/klauspost/pgzip"
	flag "github.com/spf13/pflag"
	"go4.org/bytereplacer"

	bootimg "github.com/122slavo122/bootimg"
)

// Replacement directions, mirroring the teacher's ReplNormal/ReplReverse so
// --revert can undo a previous patch pass with the same replacement table.
const (
	replNormal = iota
	replReverse
)

type replList struct {
	replacements []string
}

func newReplList(size int) *replList {
	return &replList{replacements: make([]string, 0, size*2)}
}

func (r *replList) add(from, to string, direction int) {
	if len(from) != len(to) {
		panic(fmt.Sprintf("replacement length %d != %d, from %q to %q", len(from), len(to), from, to))
	}
	if direction == replReverse {
		from, to = to, from
	}
	r.replacements = append(r.replacements, from, to)
}

func (r *replList) build() *bytereplacer.Replacer {
	return bytereplacer.New(r.replacements...)
}

// patchRamdisk applies the same internal-storage-backup string patches the
// teacher's TWRP patcher did, generalized to run in either direction.
func patchRamdisk(ramdisk []byte, direction int) []byte {
	r := newReplList(3)

	r.add("\x00/media\x00", "\x00/.twrp\x00", direction)
	r.add("Data (excl. storage)", "Data (incl. storage)", direction)
	r.add("Backups of {1} do not include any files in internal storage such as pictures or downloads.",
		"Backups of {1} include files in internal storage such as pictures and downloads.          ",
		direction)

	return r.build().Replace(ramdisk)
}

func gunzip(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, err
	}
	if err := gr.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func runPatch(args []string) error {
	var outputPath string
	var revert bool

	fs := flag.NewFlagSet("patch", flag.ExitOnError)
	fs.StringVarP(&outputPath, "output", "o", "", "Path to write the patched image to.")
	fs.BoolVarP(&revert, "revert", "r", false, "Revert a previously patched image.")
	fs.Parse(args)

	inputPath, err := resolveInputPath(fs.Args())
	if err != nil {
		return err
	}
	if outputPath == "" {
		ext := filepath.Ext(inputPath)
		base := filepath.Base(inputPath)
		dir, _ := filepath.Split(inputPath)
		outputPath = filepath.Join(dir, strings.TrimSuffix(base, ext)+"-patched"+ext)
	}

	fmt.Println(" - Reading image")
	in, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	stream := bootimg.NewFileStream(in)
	reader := bootimg.NewReader(stream)

	header, err := reader.ReadHeader()
	if err != nil {
		in.Close()
		return err
	}
	format, _ := reader.Format()

	segments := map[bootimg.EntryType][]byte{}
	for {
		entry, err := reader.ReadEntry()
		if err == bootimg.ErrEndOfEntries {
			break
		}
		if err != nil {
			in.Close()
			return err
		}
		buf := make([]byte, entry.Size)
		if _, err := readAllEntry(reader, buf); err != nil {
			in.Close()
			return err
		}
		segments[entry.Type] = buf
	}
	in.Close()

	fmt.Println(" - Decompressing ramdisk")
	ramdisk, err := gunzip(segments[bootimg.EntryRamdisk])
	if err != nil {
		return err
	}

	direction := replNormal
	if revert {
		direction = replReverse
	}
	fmt.Println(" - Patching ramdisk")
	ramdisk = patchRamdisk(ramdisk, direction)

	fmt.Println(" - Compressing ramdisk")
	ramdisk, err = gzipCompress(ramdisk)
	if err != nil {
		return err
	}
	segments[bootimg.EntryRamdisk] = ramdisk

	fmt.Println(" - Writing patched image")
	out, err := os.OpenFile(outputPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	outStream := bootimg.NewFileStream(out)
	writer, err := bootimg.NewWriter(outStream, format)
	if err != nil {
		return err
	}
	if err := writer.WriteHeader(header); err != nil {
		return err
	}

	order := []bootimg.EntryType{
		bootimg.EntryKernel, bootimg.EntryRamdisk, bootimg.EntrySecondboot, bootimg.EntryDeviceTree,
	}
	for _, et := range order {
		if _, err := writer.GetEntry(); err != nil {
			return err
		}
		if data := segments[et]; len(data) > 0 {
			if _, err := writer.WriteData(data); err != nil {
				return err
			}
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	fmt.Printf(" - Finished! Output is '%s'.\n", outputPath)
	return nil
}

// readAllEntry fills buf completely from the currently selected segment.
func readAllEntry(r *bootimg.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.ReadData(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
