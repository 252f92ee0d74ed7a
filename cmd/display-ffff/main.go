// display-ffff parses, validates and displays an FFFF flash image, and
// can explode its elements into separate files or export a map file.
//
// Usage:
//
//	display-ffff [-explode root] [-map] [-v] image.ffff
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/moffa90/go-ffff/ffff"
)

// newLogger builds the console logger. Validation diagnostics (Warn and
// up) always show; Info progress events only with -v.
func newLogger(verbose bool) zerolog.Logger {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if !verbose {
		log = log.Level(zerolog.WarnLevel)
	}
	return log
}

func main() {
	explodeRoot := flag.String("explode", "", "write each element payload as <root>.<n>.<type>.bin")
	writeMap := flag.Bool("map", false, "write a .map file of field and element offsets")
	verbose := flag.Bool("v", false, "also log informational progress, not just diagnostics")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "display-ffff: exactly one image file is required")
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	log := newLogger(*verbose)

	img, err := ffff.OpenFile(path, ffff.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("open image")
	}

	if verr := img.Validate(); verr != nil {
		for _, p := range verr.Problems {
			log.Warn().Msg(p.String())
		}
	}

	if err := img.Display(os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("display image")
	}

	if *explodeRoot != "" {
		if err := img.Explode(*explodeRoot); err != nil {
			log.Fatal().Err(err).Msg("explode image")
		}
	}
	if *writeMap {
		if err := img.CreateMapFile(path, 0); err != nil {
			log.Fatal().Err(err).Msg("write map file")
		}
	}
}
