// Command osc2adiff converts osmChange files to augmented diffs based on
// tag and region filters, and seeds the watched-object store from a PBF
// extract.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/osmwatch/internal/adiff"
	"github.com/banshee-data/osmwatch/internal/osmapi"
	"github.com/banshee-data/osmwatch/internal/region"
	"github.com/banshee-data/osmwatch/internal/store"
	"github.com/banshee-data/osmwatch/internal/tagmatch"
	"github.com/banshee-data/osmwatch/internal/version"
)

var (
	dbPath      = flag.String("db", "osmwatch.db", "Path to the sqlite store")
	adiffPath   = flag.String("a", "", "Augmented diff file to produce (default stdout)")
	tagsPath    = flag.String("t", "", "File with a list of tags to watch")
	regionsPath = flag.String("r", "", "CSV file with names and wkb geometry for regions to filter")
	apiBase     = flag.String("api", osmapi.DefaultBaseURL, "OSM API base URL")
	verbose     = flag.Bool("verbose", false, "Log filtered-out objects")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] init <extract.osm.pbf> | process <change.osc[.gz]>\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("osc2adiff %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	args := flag.Args()
	if len(args) != 2 {
		usage()
		os.Exit(2)
	}
	action, input := args[0], args[1]
	if action != "init" && action != "process" {
		fmt.Fprintf(os.Stderr, "unknown action %q, want init or process\n", action)
		os.Exit(2)
	}

	if err := run(action, input); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

func run(action, input string) error {
	matcher, err := loadMatcher(*tagsPath)
	if err != nil {
		return err
	}
	regions, err := loadRegions(*regionsPath)
	if err != nil {
		return err
	}

	st, err := store.Open(*dbPath, matcher, nil)
	if err != nil {
		return fmt.Errorf("open store %s: %w", *dbPath, err)
	}
	defer st.Close()

	switch action {
	case "init":
		return adiff.InitStore(context.Background(), input, st, matcher, regions)
	case "process":
		out := os.Stdout
		if *adiffPath != "" {
			f, err := os.Create(*adiffPath)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		builder := &adiff.Builder{
			Store:   st,
			Matcher: matcher,
			Regions: regions,
			API:     osmapi.New(*apiBase, nil),
			Debug:   *verbose,
		}
		return builder.ProcessOSC(input, out)
	}
	return nil
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
