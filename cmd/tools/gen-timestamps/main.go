// Command gen-timestamps converts between OSM minutely replication
// sequence numbers and timestamps, and lists pending sequence numbers.
//
//	gen-timestamps             print the latest complete sequence number
//	gen-timestamps 12345       print sequence numbers after 12345
//	gen-timestamps -12345      decode a sequence number to a timestamp
//	gen-timestamps 2021-06-01T12:00  encode a timestamp to a sequence number
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/osmwatch/internal/replication"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 && strings.Contains(args[0], "-") {
		if strings.HasPrefix(args[0], "-") {
			seq, err := strconv.ParseInt(args[0][1:], 10, 64)
			if err != nil {
				fmt.Println(`Use either "-sequence" or a date for the first argument`)
				return 1
			}
			fmt.Println(replication.SequenceTime(seq).Format("2006-01-02 15:04"))
			return 0
		}
		target, err := time.Parse("2006-01-02T15:04", strings.Join(args, " "))
		if err != nil {
			if target, err = time.Parse("2006-01-02T15:04:05", strings.Join(args, " ")); err != nil {
				fmt.Println("Please use format YYYY-MM-DDTHH:MM[:SS]")
				return 1
			}
		}
		now := replication.Now().UTC()
		if target.After(now) {
			fmt.Printf("Current UTC time is %s.\n", now.Format("2006-01-02T15:04"))
			return 1
		}
		fmt.Println(replication.TimeSequence(target))
		return 0
	}

	since := int64(-1)
	if len(args) > 0 {
		s, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fmt.Println("Please pass a sequence number")
			return 2
		}
		since = s
	}
	for _, seq := range replication.Pending(since) {
		fmt.Println(seq)
	}
	return 0
}
