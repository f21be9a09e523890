package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"k8s.io/klog/v2"

	"github.com/tstromberg/samtid/pkg/exifdir"
	"github.com/tstromberg/samtid/pkg/samtid"
)

var (
	backendFlag = flag.String("backend", "native", "metadata backend: native or exiftool")
	slotFlag    = flag.String("slot", "append", "where to store a missing capture time: append or repurpose")
	badDateFlag = flag.String("bad-date", "skip", "malformed capture times: skip the file, treat as absent, or abort")
	extFlag     = flag.String("ext", strings.Join(samtid.DefaultExtensions, ","), "comma separated extensions to process")
	watchFlag   = flag.Bool("watch", false, "keep watching the input for new files")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <input> <output-dir>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		klog.Exitf("expected 2 arguments, got %d", flag.NArg())
	}

	c, err := config(flag.Arg(0), flag.Arg(1))
	if err != nil {
		klog.Exitf("invalid flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, c, *watchFlag); err != nil {
		klog.Exitf("%v", err)
	}
}

func config(in, out string) (*samtid.Config, error) {
	slot, err := exifdir.ParseSlotPolicy(*slotFlag)
	if err != nil {
		return nil, err
	}
	bad, err := samtid.ParseBadDatePolicy(*badDateFlag)
	if err != nil {
		return nil, err
	}

	return &samtid.Config{
		InPath:     in,
		OutDir:     out,
		Backend:    *backendFlag,
		Slot:       slot,
		OnBadDate:  bad,
		Extensions: samtid.ParseExtensions(*extFlag),
	}, nil
}

// run reconciles the input into the output directory. Any error is fatal.
func run(ctx context.Context, c *samtid.Config, watch bool) error {
	if err := samtid.CheckPaths(c.InPath, c.OutDir); err != nil {
		return err
	}

	ts, err := samtid.Targets(c)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(c.OutDir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	a, err := samtid.NewAccessor(c.Backend, c.Slot)
	if err != nil {
		return fmt.Errorf("%s backend: %w", c.Backend, err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			klog.Warningf("close %s backend: %v", c.Backend, err)
		}
	}()

	b := samtid.NewBatch(c, a)
	if err := b.Run(ts); err != nil {
		return err
	}

	if !watch {
		return nil
	}
	if err := samtid.Watch(ctx, c, b); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
