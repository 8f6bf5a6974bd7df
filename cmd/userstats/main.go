// Command userstats reads transition rows and calculates per-user
// contribution statistics, as CSV or as an HTML report.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/banshee-data/osmwatch/internal/userstats"
	"github.com/banshee-data/osmwatch/internal/version"
)

var (
	inPath      = flag.String("i", "", "CSV file with transition rows (default stdin)")
	outPath     = flag.String("o", "", "Where to write the resulting table (default stdout)")
	usersPath   = flag.String("u", "", "CSV file with users and uids, made with user-lookup")
	weightsPath = flag.String("w", "", "Definitions for weights for change types")
	csvOut      = flag.Bool("csv", false, "Write CSV instead of HTML")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("userstats %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if err := run(); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

func run() error {
	weights, err := loadWeights(*weightsPath)
	if err != nil {
		return err
	}
	allowed, groups, err := loadUsers(*usersPath)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if *inPath != "" {
		f, err := os.Open(*inPath)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	rows, err := userstats.ReadRows(in)
	if err != nil {
		return err
	}

	result := userstats.Aggregate(rows, weights)
	users := result.ByUser()

	// Drop users outside the allow list and resolve group names.
	filtered := users[:0]
	for _, u := range users {
		if len(allowed) > 0 && !allowed[u.UID] && !allowed[u.Username] {
			continue
		}
		group := groups[u.UID]
		if group == "" {
			group = groups[u.Username]
		}
		if display, ok := weights.UserGroups[group]; ok {
			group = display
		}
		u.UserGroup = group
		filtered = append(filtered, u)
	}
	users = filtered

	mean, stddev := userstats.ScoreSummary(users)
	log.Printf("%d users, score mean %.0f, stddev %.0f", len(users), mean, stddev)

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if *csvOut {
		return userstats.WriteCSV(out, result, weights, users)
	}
	return userstats.WriteHTML(out, result, users)
}

func loadWeights(path string) (*userstats.Weights, error) {
	if path == "" {
		return userstats.DefaultWeights(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return userstats.LoadWeights(f)
}

// loadUsers reads the user-lookup CSV: full name, username, uid and an
// optional group column. The allow list admits by uid when known,
// otherwise by username.
func loadUsers(path string) (allowed map[string]bool, groups map[string]string, err error) {
	allowed = make(map[string]bool)
	groups = make(map[string]string)
	if path == "" {
		return allowed, groups, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("users %s: %w", path, err)
		}
		if len(rec) < 3 {
			continue
		}
		key := rec[2]
		if key == "" {
			key = rec[1]
		}
		allowed[key] = true
		if len(rec) > 3 && strings.TrimSpace(rec[3]) != "" {
			groups[key] = strings.TrimSpace(rec[3])
		}
	}
	return allowed, groups, nil
}
