// create-ffff builds an FFFF flash image from a TOML manifest.
//
// Usage:
//
//	create-ffff -manifest image.toml -out spiral2.ffff [-map] [-v]
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/moffa90/go-ffff/ffff"
	"github.com/moffa90/go-ffff/manifest"
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
	manifestPath := flag.String("manifest", "", "TOML manifest describing the image")
	outPath := flag.String("out", "", "output image path (default extension "+ffff.FileExtension+")")
	writeMap := flag.Bool("map", false, "also write a .map file of field and element offsets")
	verbose := flag.Bool("v", false, "also log informational progress, not just diagnostics")
	flag.Parse()

	if *manifestPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "create-ffff: -manifest and -out are required")
		flag.Usage()
		os.Exit(2)
	}

	log := newLogger(*verbose)

	m, err := manifest.Load(*manifestPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load manifest")
	}

	img, err := m.Build(ffff.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("build image")
	}

	if err := img.Write(*outPath); err != nil {
		log.Fatal().Err(err).Msg("write image")
	}

	if *writeMap {
		if err := img.CreateMapFile(*outPath, 0); err != nil {
			log.Fatal().Err(err).Msg("write map file")
		}
	}
}
