// Command bootimg inspects, unpacks, repacks, and ramdisk-patches
// Android-family boot images from the command line, on top of the
// github.com/122slavo122/bootimg library.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	flag "github.com/spf13/pflag"
)

const usage = `Usage: bootimg <command> [flags] <image>

Commands:
  info    print header fields and segment sizes
  unpack  extract header metadata and segments to a directory
  pack    assemble a boot image from a directory produced by unpack
  patch   apply TWRP-style string patches to an image's ramdisk
`

func fail(err error, doing string) {
	fmt.Fprintf(os.Stderr, " ! Error %s!\n", doing)
	fmt.Fprintf(os.Stderr, " ! %s\n", err.Error())
	os.Exit(2)
}

func interactiveTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	flag.CommandLine = flag.NewFlagSet(cmd, flag.ExitOnError)
	flag.ErrHelp = errors.New("")

	var err error
	switch cmd {
	case "info":
		err = runInfo(args)
	case "unpack":
		err = runUnpack(args)
	case "pack":
		err = runPack(args)
	case "patch":
		err = runPatch(args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stderr, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fail(err, cmd)
	}
}
