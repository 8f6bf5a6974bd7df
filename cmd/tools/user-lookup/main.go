// Command user-lookup resolves OSM display names to user ids through the
// changesets endpoint, producing the users CSV consumed by userstats.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/osmwatch/internal/osmapi"
)

var (
	apiBase  = flag.String("api", osmapi.DefaultBaseURL, "OSM API base URL")
	outPath  = flag.String("o", "", "Output CSV file (default stdout)")
	withInfo = flag.Bool("info", false, "Also fetch account creation date and changeset count")
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <names.csv>\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Input rows: full name, display name (or one display name per line).")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if err := run(flag.Arg(0)); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

func run(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	out := os.Stdout
	if *outPath != "" {
		of, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer of.Close()
		out = of
	}

	client := osmapi.New(*apiBase, nil)
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cw := csv.NewWriter(out)
	defer cw.Flush()

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		fullName := strings.TrimSpace(rec[0])
		displayName := fullName
		if len(rec) > 1 && strings.TrimSpace(rec[1]) != "" {
			displayName = strings.TrimSpace(rec[1])
		}
		if displayName == "" {
			continue
		}

		cs, err := client.UserChangesets(displayName)
		if err != nil {
			return err
		}
		if cs == nil {
			log.Printf("no changesets found for %q", displayName)
			if err := cw.Write([]string{fullName, displayName, ""}); err != nil {
				return err
			}
			continue
		}
		row := []string{fullName, displayName, strconv.FormatInt(cs.UserID, 10)}
		if *withInfo {
			info, err := client.User(cs.UserID)
			if err != nil {
				return err
			}
			row = append(row,
				info.AccountCreated.UTC().Format("2006-01-02"),
				strconv.Itoa(info.ChangesetCount))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return cw.Error()
}
