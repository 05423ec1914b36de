// mkfs builds a filesystem image from a host directory tree.
//
//	mkfs [--config tfs.yaml] [--size bytes] [--journal bytes] <image> [hostdir]
//
// Without hostdir the image holds only an empty root directory.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/osstudy/nanos/common"
	"github.com/osstudy/nanos/config"
	"github.com/osstudy/nanos/disk"
	tfs "github.com/osstudy/nanos/fs"
	"github.com/osstudy/nanos/logging"
	"github.com/osstudy/nanos/tuple"
	"github.com/osstudy/nanos/util"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var size, journal uint64

	flagSet := pflag.NewFlagSet("mkfs", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "YAML config file (TFS_* environment variables also apply)")
	flagSet.Uint64Var(&size, "size", 0, "image size in bytes (default from config)")
	flagSet.Uint64Var(&journal, "journal", 0, "journal size in bytes (default from config)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	args := flagSet.Args()
	if len(args) < 1 || len(args) > 2 {
		flagSet.Usage()
		return fmt.Errorf("usage: mkfs <image> [hostdir]")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if size != 0 {
		cfg.Image.Size = size
	}
	if journal != 0 {
		cfg.Image.Journal = journal
	}
	logger := cfg.Logger(os.Stderr)

	dev, err := disk.OpenFile(args[0], util.RoundUp(cfg.Image.Size, common.SECTORSIZE))
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := await(func(k func(error)) { tfs.Format(dev, k, cfg.Options()...) }); err != nil {
		return fmt.Errorf("format %s: %w", args[0], err)
	}
	ctx := logging.WithLogger(context.Background(), logger)
	ctx = logging.WithImage(ctx, args[0])
	var fsys *tfs.Filesystem
	err = await(func(k func(error)) {
		tfs.Mount(ctx, dev, func(f *tfs.Filesystem, err error) {
			fsys = f
			k(err)
		}, cfg.Options()...)
	})
	if err != nil {
		return fmt.Errorf("mount %s: %w", args[0], err)
	}

	if len(args) == 2 {
		plog := logging.ForOp(ctx, "mkfs.populate",
			slog.String("image", args[0]),
			slog.String("hostdir", args[1]))
		if err := populate(fsys, args[1], plog); err != nil {
			return err
		}
	}
	if err := await(fsys.Flush); err != nil {
		return err
	}
	logger.Info("image written",
		slog.String("image", args[0]),
		slog.Uint64("free", fsys.Available()))
	return nil
}

// await runs op and returns the error it completes with. Image files
// complete every request before returning, so the completion has always
// run by then.
func await(op func(k func(error))) error {
	var done bool
	var res error
	op(func(err error) {
		res = err
		done = true
	})
	if !done {
		panic("await: operation did not complete")
	}
	return res
}

func populate(fsys *tfs.Filesystem, root string, logger *slog.Logger) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		switch {
		case d.IsDir():
			return await(func(k func(error)) {
				fsys.Mkdir(nil, rel, true, func(_ *tuple.Tuple, err error) { k(err) })
			})
		case d.Type().IsRegular():
			return copyFile(fsys, path, rel)
		default:
			logger.Warn("skipping non-regular file", slog.String("path", path))
			return nil
		}
	})
}

func copyFile(fsys *tfs.Filesystem, host string, rel string) error {
	data, err := os.ReadFile(host)
	if err != nil {
		return err
	}
	var f *tfs.File
	err = await(func(k func(error)) {
		fsys.Creat(nil, rel, true, func(x *tfs.File, err error) {
			f = x
			k(err)
		})
	})
	if err != nil {
		return err
	}
	return await(func(k func(error)) {
		fsys.Write(f.Meta(), data, 0, func(_ uint64, err error) {
			if err != nil {
				err = fmt.Errorf("write %s: %w", rel, err)
			}
			k(err)
		})
	})
}
