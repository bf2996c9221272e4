// opctl is a small operator CLI for the officepulse API: inspect
// rankings, streaks and tie-breakers, and trigger maintenance resets
// without reaching for curl.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"

	"github.com/mattdh/officepulse/internal/models"
	"github.com/mattdh/officepulse/internal/rankings"
)

var httpClient = &http.Client{Timeout: 8 * time.Second}

func main() {
	addr := flag.String("addr", envDefault("OFFICEPULSE_ADDR", "http://localhost:9000"), "API base URL")
	mode := flag.String("mode", models.ModeEarlyBird, "scoring mode: early-bird or last-in")
	date := flag.String("date", "", "window date YYYY-MM-DD (default today)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	c := &client{base: strings.TrimRight(*addr, "/")}
	var err error
	switch cmd := flag.Arg(0); cmd {
	case "rankings":
		period := "weekly"
		if flag.NArg() > 1 {
			period = flag.Arg(1)
		}
		err = c.rankings(period, *mode, *date)
	case "streaks":
		err = c.streaks()
	case "tiebreakers":
		err = c.tieBreakers(*mode)
	case "reset-tiebreakers":
		err = c.post("/maintenance/reset-tiebreakers")
	case "reset-effects":
		err = c.post("/maintenance/reset-tiebreaker-effects")
	case "reset-streaks":
		err = c.post("/maintenance/reset-streaks")
	case "health":
		err = c.raw("/health")
	case "version":
		err = c.raw("/version")
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: opctl [flags] <command>

commands:
  rankings [daily|weekly|monthly]   show standings for a window
  streaks                           show attendance streaks
  tiebreakers                       list tie-breaker cases
  reset-tiebreakers                 delete all tie-breakers
  reset-effects                     revert resolved tie-breaker scoring
  reset-streaks                     clear persisted streaks
  health, version                   service probes

flags:
`)
	flag.PrintDefaults()
}

func envDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

type client struct {
	base string
}

func (c *client) get(path string, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) post(path string) error {
	resp, err := httpClient.Post(c.base+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api status %d for %s", resp.StatusCode, path)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		fmt.Println(body["status"])
	}
	return nil
}

func (c *client) raw(path string) error {
	var body map[string]any
	if err := c.get(path, &body); err != nil {
		return err
	}
	for k, v := range body {
		fmt.Printf("%s: %v\n", k, v)
	}
	return nil
}

func (c *client) rankings(period, mode, date string) error {
	path := fmt.Sprintf("/rankings/%s?mode=%s", period, mode)
	if date != "" {
		path += "&date=" + date
	}
	var body struct {
		Standings []rankings.Standing `json:"standings"`
	}
	if err := c.get(path, &body); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tPERSON\tSCORE\tDAYS")
	for i, s := range body.Standings {
		fmt.Fprintf(w, "%d\t%s\t%.1f\t%d\n", i+1, s.Person, s.Score, s.ActiveDays)
	}
	return w.Flush()
}

func (c *client) streaks() error {
	var body struct {
		Streaks []models.Streak `json:"streaks"`
	}
	if err := c.get("/streaks", &body); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PERSON\tCURRENT\tMAX\tLAST SEEN")
	for _, s := range body.Streaks {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", s.Person, s.CurrentLength, s.MaxLength, s.LastAttendanceDate)
	}
	return w.Flush()
}

func (c *client) tieBreakers(mode string) error {
	path := "/tie-breakers"
	if mode != "" {
		path += "?mode=" + mode
	}
	var body struct {
		TieBreakers []models.TieBreaker `json:"tie_breakers"`
	}
	if err := c.get(path, &body); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPERIOD\tWINDOW\tMODE\tSCORE\tSTATUS\tPEOPLE")
	for _, tb := range body.TieBreakers {
		people := make([]string, 0, len(tb.Participants))
		for _, p := range tb.Participants {
			name := p.Person
			if p.Winner {
				name += "*"
			}
			people = append(people, name)
		}
		fmt.Fprintf(w, "%s\t%s\t%s..%s\t%s\t%.1f\t%s\t%s\n",
			tb.ID, tb.Period, tb.PeriodStart, tb.PeriodEnd, tb.Mode,
			tb.PointValue, tb.Status, strings.Join(people, ","))
	}
	return w.Flush()
}
