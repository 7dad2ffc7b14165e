// Command f5ar hides files inside JPEG libraries and gets them back.
//
//	f5ar pack <folder> <regex> <payload> <archive-name>
//	f5ar unpack <archive> <out-file>
//	f5ar analyze <folder> <regex>
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/mattn/go-isatty"
	"github.com/pborman/options"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	f5ar "github.com/LabunskyA/f5ar"
)

var opts = struct {
	Yes        bool         `getopt:"-y --yes            do not ask for confirmation on low capacity"`
	Compress   bool         `getopt:"-z --compress       zstd-compress the payload before embedding"`
	Decompress bool         `getopt:"-Z --decompress     zstd-decompress the payload after extraction"`
	Quiet      bool         `getopt:"-q --quiet          only log errors"`
	Help       options.Help `getopt:"-h --help           display help"`
}{}

var log zerolog.Logger

func main() {
	args := options.RegisterAndParse(&opts)

	log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
	if opts.Quiet {
		log = log.Level(zerolog.ErrorLevel)
	}

	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "pack", "p":
		if len(args) != 5 {
			usage()
			os.Exit(2)
		}
		err = pack(args[1], args[2], args[3], args[4])

	case "unpack", "u":
		if len(args) != 3 {
			usage()
			os.Exit(2)
		}
		err = unpack(args[1], args[2])

	case "analyze", "a":
		if len(args) != 3 {
			usage()
			os.Exit(2)
		}
		err = analyze(args[1], args[2])

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatal().Err(err).Msg("failed")
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %[1]s [flags] <verb> [args]

  pack <folder> <regex> <payload> <name>   embed <payload> into the JPEGs of
                                           (<folder>, <regex>) and save the
                                           archive file as <folder>/<name>
  unpack <archive> <out>                   extract an archive next to its
                                           covers and write the payload to <out>
  analyze <folder> <regex>                 report the capacity of a library

Examples:
  %[1]s pack dogs/ '.*\.jpg' in.txt doge.arch
  %[1]s unpack dogs/doge.arch out.txt
`, filepath.Base(os.Args[0]))
}

// addTree appends every non-hidden file under root whose base name
// matches the regular expression, in lexical walk order.
func addTree(archive *f5ar.Archive, root string, re *regexp.Regexp) error {
	bar := progressbar.Default(-1, "collecting covers")
	defer bar.Finish()

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if strings.HasPrefix(d.Name(), ".") && path != root {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() || !re.MatchString(d.Name()) {
			return nil
		}

		if err := archive.AddFile(path); err != nil {
			return err
		}
		return bar.Add(1)
	})
}

// fillTree binds every non-hidden file under root to its manifest
// slot by fingerprint, stopping as soon as the archive is complete.
func fillTree(archive *f5ar.Archive, root string) error {
	bar := progressbar.Default(int64(archive.Size()), "filling archive")
	defer bar.Finish()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if strings.HasPrefix(d.Name(), ".") && path != root {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		complete, err := archive.FillFile(path)
		switch {
		case errors.Is(err, f5ar.ErrNotFound):
			return nil
		case err != nil:
			log.Warn().Err(err).Str("file", path).Msg("skipping unreadable candidate")
			return nil
		}

		_ = bar.Add(1)
		if complete {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return err
	}

	if archive.Filled() != archive.Size() {
		return fmt.Errorf("found %d of %d covers: %w",
			archive.Filled(), archive.Size(), f5ar.ErrNotComplete)
	}
	return nil
}

func confirmCapacity(archive *f5ar.Archive, msgSize int) error {
	guaranteed := archive.Capacity.Full / 8
	possible := (archive.Capacity.Full + archive.Capacity.Shrinkable) / 8

	log.Info().
		Uint64("guaranteed_bytes", guaranteed).
		Uint64("possible_bytes", possible).
		Msg("library capacity")

	if uint64(msgSize) <= guaranteed || opts.Yes {
		return nil
	}

	fmt.Fprintf(os.Stderr,
		"Payload is %d bytes over the guaranteed library capacity; embedding may fail. Continue? [Y/N]: ",
		uint64(msgSize)-guaranteed)

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		switch strings.TrimSpace(in.Text()) {
		case "Y", "y":
			return nil
		case "N", "n":
			return fmt.Errorf("aborted")
		}
		fmt.Fprint(os.Stderr, "[Y/N]: ")
	}
	return fmt.Errorf("aborted")
}

func pack(folder, pattern, payloadPath, name string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("bad cover regex: %w", err)
	}

	payload, err := os.ReadFile(payloadPath)
	if err != nil {
		return err
	}

	if opts.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return err
		}
		packed := enc.EncodeAll(payload, nil)
		enc.Close()
		log.Info().Int("raw", len(payload)).Int("compressed", len(packed)).Msg("payload compressed")
		payload = packed
	}

	archive := f5ar.New()
	defer archive.Close()

	start := time.Now()
	if err = addTree(archive, folder, re); err != nil {
		return err
	}
	log.Info().Int("covers", archive.Size()).Dur("took", time.Since(start)).Msg("library collected")

	start = time.Now()
	if err = archive.Analyze(); err != nil {
		return err
	}
	log.Info().Dur("took", time.Since(start)).Msg("library analyzed")

	if err = confirmCapacity(archive, len(payload)); err != nil {
		return err
	}

	start = time.Now()
	if err = archive.Pack(payload); err != nil {
		return err
	}
	log.Info().
		Uint8("k", archive.Meta.K).
		Int("used", archive.Used()).
		Dur("took", time.Since(start)).
		Msg("payload embedded")

	out, err := os.Create(filepath.Join(folder, name))
	if err != nil {
		return err
	}
	if _, err = archive.WriteTo(out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func unpack(archivePath, outPath string) error {
	in, err := os.Open(archivePath)
	if err != nil {
		return err
	}

	archive := f5ar.New()
	defer archive.Close()

	if _, err = archive.ReadFrom(in); err != nil {
		in.Close()
		return err
	}
	in.Close()

	start := time.Now()
	if err = fillTree(archive, filepath.Dir(archivePath)); err != nil {
		return err
	}
	log.Info().Int("covers", archive.Size()).Dur("took", time.Since(start)).Msg("covers rebound")

	start = time.Now()
	payload, err := archive.Unpack()
	if err != nil {
		return err
	}
	log.Info().Int("bytes", len(payload)).Dur("took", time.Since(start)).Msg("payload extracted")

	if opts.Decompress {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return err
		}
		plain, err := dec.DecodeAll(payload, nil)
		dec.Close()
		if err != nil {
			return fmt.Errorf("decompress payload: %w", err)
		}
		payload = plain
	}

	return os.WriteFile(outPath, payload, 0o644)
}

func analyze(folder, pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("bad cover regex: %w", err)
	}

	archive := f5ar.New()
	defer archive.Close()

	if err = addTree(archive, folder, re); err != nil {
		return err
	}
	if err = archive.Analyze(); err != nil {
		return err
	}

	fmt.Printf("Covers:               %d\n", archive.Size())
	fmt.Printf("Guaranteed capacity:  %d bytes\n", archive.Capacity.Full/8)
	fmt.Printf("Possible capacity:    %d bytes\n",
		(archive.Capacity.Full+archive.Capacity.Shrinkable)/8)
	return nil
}
