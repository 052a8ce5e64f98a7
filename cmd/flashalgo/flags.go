package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// options holds the parsed command line.
type options struct {
	Targets  []string
	Chip     string
	Core     string
	Address  uint64
	HasAddr  bool
	GDB      string
	Serial   string
	Baud     int
	Timeout  time.Duration
	Verify   bool
	Restore  bool
	EraseAll bool
	Debug    bool
	Quiet    bool
	Image    string
}

// usageError represents an error that should show usage information.
type usageError struct {
	flags *flag.FlagSet
	msg   string
}

func (e *usageError) Error() string {
	return e.msg
}

func (e *usageError) showUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, "usage: flashalgo -target family.yaml -chip VARIANT (-gdb HOST:PORT | -serial PORT) [options] <image.bin>\n\n")
	e.flags.SetOutput(w)
	e.flags.PrintDefaults()
	_, _ = fmt.Fprintln(w)
}

// targetList collects repeated -target flags.
type targetList []string

func (l *targetList) String() string { return strings.Join(*l, ",") }

func (l *targetList) Set(s string) error {
	*l = append(*l, s)
	return nil
}

func parseFlags(args []string) (options, error) {
	flags := flag.NewFlagSet("flashalgo", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	var opts options
	var targets targetList
	var address string
	flags.Var(&targets, "target", "chip family description file, may be repeated")
	flags.StringVar(&opts.Chip, "chip", "", "chip variant to flash")
	flags.StringVar(&opts.Core, "core", "", "core to run the flash algorithm on, first core if empty")
	flags.StringVar(&address, "address", "", "flash address of the image in hex, boot memory start if empty")
	flags.StringVar(&opts.GDB, "gdb", "", "GDB server address, for example localhost:3333")
	flags.StringVar(&opts.Serial, "serial", "", "serial port of a probe with a built-in GDB server")
	flags.IntVar(&opts.Baud, "baud", 115200, "serial baud rate")
	flags.DurationVar(&opts.Timeout, "timeout", 5*time.Second, "timeout for a single GDB command")
	flags.BoolVar(&opts.Verify, "verify", true, "read back and compare programmed pages")
	flags.BoolVar(&opts.Restore, "restore", false, "preserve bytes of erased sectors that the image does not cover")
	flags.BoolVar(&opts.EraseAll, "erase-all", false, "erase all flash of the core instead of programming an image")
	flags.BoolVar(&opts.Debug, "debug", false, "enable debugging options for extended logging")
	flags.BoolVar(&opts.Quiet, "quiet", false, "perform operations quietly")

	if err := flags.Parse(args); err != nil {
		return opts, &usageError{flags: flags, msg: err.Error()}
	}
	opts.Targets = targets

	rest := flags.Args()
	switch {
	case len(opts.Targets) == 0 || opts.Chip == "":
		return opts, &usageError{flags: flags, msg: "-target and -chip are required"}
	case (opts.GDB == "") == (opts.Serial == ""):
		return opts, &usageError{flags: flags, msg: "exactly one of -gdb or -serial is required"}
	case opts.EraseAll && len(rest) > 0:
		return opts, &usageError{flags: flags, msg: "-erase-all takes no image"}
	case !opts.EraseAll && len(rest) != 1:
		return opts, &usageError{flags: flags, msg: "expected exactly one image file as last argument"}
	}
	if !opts.EraseAll {
		opts.Image = rest[0]
	}

	if address != "" {
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(address), "0x"), 16, 64)
		if err != nil {
			return opts, fmt.Errorf("invalid address %q: %w", address, err)
		}
		opts.Address = v
		opts.HasAddr = true
	}
	return opts, nil
}
