// Command adiff2csv extracts tag-kind transitions from an augmented diff
// file, as CSV rows or as a psql COPY script.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/osmwatch/internal/adiff"
	"github.com/banshee-data/osmwatch/internal/region"
	"github.com/banshee-data/osmwatch/internal/tagmatch"
	"github.com/banshee-data/osmwatch/internal/transitions"
	"github.com/banshee-data/osmwatch/internal/version"
)

var (
	outPath     = flag.String("o", "", "Output CSV or SQL file (default stdout)")
	tagsPath    = flag.String("t", "", "File with a list of tags to watch")
	regionsPath = flag.String("r", "", "CSV file with names and wkb geometry for regions to filter")
	table       = flag.String("table", "", "Instead of CSV, print SQL for importing into this psql table")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("adiff2csv %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <file.adiff>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(flag.Arg(0)); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

func run(adiffFile string) error {
	matcher, err := loadMatcher(*tagsPath)
	if err != nil {
		return err
	}
	if matcher.Empty() {
		return fmt.Errorf("a tag file (-t) is required to name the kinds to extract")
	}
	regions, err := loadRegions(*regionsPath)
	if err != nil {
		return err
	}

	f, err := os.Open(adiffFile)
	if err != nil {
		return err
	}
	defer f.Close()
	doc, err := adiff.Parse(f)
	if err != nil {
		return err
	}

	extractor := &transitions.Extractor{Matcher: matcher, Regions: regions}
	rows := extractor.Extract(doc)

	out := os.Stdout
	if *outPath != "" {
		of, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer of.Close()
		out = of
	}
	if *table != "" {
		return transitions.WriteSQL(out, rows, *table)
	}
	return transitions.WriteCSV(out, rows)
}

func loadMatcher(path string) (*tagmatch.Matcher, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := tagmatch.Load(f)
	if err != nil {
		return nil, fmt.Errorf("load tags %s: %w", path, err)
	}
	return m, nil
}

func loadRegions(path string) (*region.Locator, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	l, err := region.Load(f)
	if err != nil {
		return nil, fmt.Errorf("load regions %s: %w", path, err)
	}
	return l, nil
}
