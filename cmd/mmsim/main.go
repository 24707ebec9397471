// Command mmsim drives a motion matching controller through scripted input,
// and manages the SQLite caches and recorded search sessions it produces.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/motionmatch/internal/db"
	"github.com/banshee-data/motionmatch/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "run":
		handleRun(args)
	case "caches":
		handleCaches(args)
	case "sessions":
		handleSessions(args)
	case "migrate":
		handleMigrate(args)
	case "version":
		fmt.Printf("mmsim version %s\n", version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`mmsim - motion matching simulator

Usage: mmsim <command> [options]

Commands:
  run        Simulate a character following an input script
  caches     List or delete motion database caches (--db)
  sessions   List recorded search sessions or show one (--db)
  migrate    Apply or roll back the SQLite schema (up|down|status)
  version    Show mmsim version
  help       Show this help message

Run Flags:
  --config <file>     Tuning config JSON
  --db <file>         SQLite database for caches and sessions
  --cache-dir <dir>   File cache directory when no --db is given
  --script <name>     stop-go, circle, zigzag or strafe
  --duration <sec>    Simulated seconds (default 10)
  --characters <n>    Characters sharing one database (default 1)
  --report <dir>      Write cost_timeline.html and transition plots
  -v                  Log builds and transitions`)
}

func openDB(args []string, name string) (*db.DB, []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	path := fs.String("db", "mmsim.db", "SQLite database path")
	fs.Parse(args)
	database, err := db.NewDB(*path)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	return database, fs.Args()
}

func handleCaches(args []string) {
	database, rest := openDB(args, "caches")
	defer database.Close()

	if len(rest) == 2 && rest[0] == "delete" {
		if err := database.DeleteCache(rest[1]); err != nil {
			log.Fatalf("Failed to delete cache: %v", err)
		}
		fmt.Printf("deleted cache %s\n", rest[1])
		return
	}
	if err := listCaches(os.Stdout, database); err != nil {
		log.Fatalf("Failed to list caches: %v", err)
	}
}

func listCaches(w io.Writer, database *db.DB) error {
	caches, err := database.ListCaches()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tBUILD\tFINGERPRINT\tBYTES\tUPDATED")
	for _, c := range caches {
		fmt.Fprintf(tw, "%s\t%s\t%.12s\t%d\t%s\n", c.Name, c.BuildID, c.Fingerprint, c.BlobBytes,
			time.Unix(0, c.UpdatedAt).UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func handleSessions(args []string) {
	database, rest := openDB(args, "sessions")
	defer database.Close()

	var err error
	if len(rest) == 1 {
		err = showSession(os.Stdout, database, rest[0])
	} else {
		err = listSessions(os.Stdout, database)
	}
	if err != nil {
		log.Fatalf("Failed to read sessions: %v", err)
	}
}

func listSessions(w io.Writer, database *db.DB) error {
	sessions, err := database.ListSessions()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSEARCHES\tCOMMITS\tMEDIAN\tP95\tCREATED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.4f\t%.4f\t%s\n", s.SessionID, s.Name, s.Summary.Searches, s.Summary.Commits,
			s.Summary.MedianCost, s.Summary.P95Cost, time.Unix(0, s.CreatedAt).UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func showSession(w io.Writer, database *db.DB, id string) error {
	s, err := database.GetSession(id)
	if err != nil {
		return err
	}
	commits, err := database.SessionRecords(id, true)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "session %s (%s) searches=%d commits=%d\n", s.SessionID, s.Name, s.Summary.Searches, s.Summary.Commits)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tT\tFROM\tTO\tCOST\tREASON")
	for _, r := range commits {
		fmt.Fprintf(tw, "%d\t%.2f\t%s\t%s\t%.4f\t%s\n", r.Seq, r.Time, r.FromClip, r.ToClip, r.Cost, r.Reason)
	}
	return tw.Flush()
}

func handleMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	path := fs.String("db", "mmsim.db", "SQLite database path")
	fs.Parse(args)
	if fs.NArg() != 1 {
		log.Fatal("Usage: mmsim migrate [--db file] up|down|status")
	}

	database, err := db.OpenDB(*path)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	migrations := db.MigrationsFS()
	switch fs.Arg(0) {
	case "up":
		err = database.MigrateUp(migrations)
	case "down":
		err = database.MigrateDown(migrations)
	case "status":
	default:
		log.Fatalf("Unknown migrate action: %s", fs.Arg(0))
	}
	if err != nil {
		log.Fatalf("Migration %s failed: %v", fs.Arg(0), err)
	}

	current, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	latest, err := db.LatestMigrationVersion(migrations)
	if err != nil {
		log.Fatalf("Failed to read migrations: %v", err)
	}
	fmt.Printf("schema version %d of %d (dirty=%v)\n", current, latest, dirty)
}
