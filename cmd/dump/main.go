// dump prints the tree stored in a filesystem image and optionally
// extracts its files.
//
//	dump [--yaml] [--hash] [--stats] [--config tfs.yaml] <image> [targetdir]
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/osstudy/nanos/config"
	"github.com/osstudy/nanos/disk"
	tfs "github.com/osstudy/nanos/fs"
	"github.com/osstudy/nanos/logging"
	"github.com/osstudy/nanos/tuple"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dump: %v\n", err)
		os.Exit(1)
	}
}

type dumper struct {
	fsys   *tfs.Filesystem
	hash   bool
	target string
}

func run() error {
	var configPath string
	var asYAML, hash, stats bool

	flagSet := pflag.NewFlagSet("dump", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "YAML config file the image was made with")
	flagSet.BoolVar(&asYAML, "yaml", false, "print the metadata tree as YAML")
	flagSet.BoolVar(&hash, "hash", false, "print a BLAKE3 digest of every file")
	flagSet.BoolVar(&stats, "stats", false, "report device requests")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	args := flagSet.Args()
	if len(args) < 1 || len(args) > 2 {
		flagSet.Usage()
		return fmt.Errorf("usage: dump <image> [targetdir]")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	file, err := disk.OpenFile(args[0], 0)
	if err != nil {
		return err
	}
	defer file.Close()
	dev := disk.MkCounter(file)

	ctx := logging.WithLogger(context.Background(), cfg.Logger(os.Stderr))
	ctx = logging.WithImage(ctx, args[0])
	var fsys *tfs.Filesystem
	tfs.Mount(ctx, dev, func(f *tfs.Filesystem, merr error) {
		fsys, err = f, merr
	}, cfg.Options()...)
	if err != nil {
		return fmt.Errorf("mount %s: %w", args[0], err)
	}
	if fsys == nil {
		panic("mount did not complete")
	}

	if asYAML {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(tuple.Dump(fsys.Root())); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
	}

	d := &dumper{fsys: fsys, hash: hash}
	if len(args) == 2 {
		d.target = args[1]
	}
	if !asYAML || d.target != "" {
		if err := d.dir(fsys.Root(), nil, 0); err != nil {
			return err
		}
	}

	if stats {
		fmt.Printf("%d reads (%d sectors), %d writes (%d sectors)\n",
			dev.Reads, dev.SectorsRead, dev.Writes, dev.SectorsWritten)
	}
	return nil
}

func (d *dumper) dir(t *tuple.Tuple, path []string, depth int) error {
	c := t.Child("children")
	if c == nil {
		return nil
	}
	if d.target != "" {
		if err := os.MkdirAll(filepath.Join(append([]string{d.target}, path...)...), 0o755); err != nil {
			return err
		}
	}
	var err error
	c.Iterate(func(a tuple.Symbol, v tuple.Value) bool {
		if a == "." || a == ".." {
			return true
		}
		indent := strings.Repeat("  ", depth)
		n, ok := v.(*tuple.Tuple)
		if !ok {
			fmt.Printf("%s%s = %s\n", indent, a, v)
			return true
		}
		sub := append(append([]string(nil), path...), string(a))
		if n.Child("children") != nil {
			fmt.Printf("%s%s\n", indent, color.BlueString("%s/", a))
			err = d.dir(n, sub, depth+1)
		} else {
			err = d.file(n, sub, indent)
		}
		return err == nil
	})
	return err
}

func (d *dumper) file(t *tuple.Tuple, path []string, indent string) error {
	name := path[len(path)-1]
	if d.fsys.File(t) == nil {
		fmt.Printf("%s%s\n", indent, color.YellowString(name))
		return nil
	}
	var data []byte
	var err error
	d.fsys.ReadEntire(t, func(b []byte, rerr error) {
		data, err = b, rerr
	})
	if err != nil {
		return fmt.Errorf("read %s: %w", strings.Join(path, "/"), err)
	}

	line := fmt.Sprintf("%s%s %d", indent, color.GreenString(name), len(data))
	if d.hash {
		sum := blake3.Sum256(data)
		line += " " + hex.EncodeToString(sum[:])
	}
	fmt.Println(line)

	if d.target != "" {
		host := filepath.Join(append([]string{d.target}, path...)...)
		if err := os.WriteFile(host, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
