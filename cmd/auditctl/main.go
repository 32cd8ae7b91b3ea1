// auditctl inspects the tamper-evident audit trail. "verify" replays the
// hash chain in the sqlite sink and fails loudly when any record has been
// altered; "tail" prints the most recent records.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/example/equishard/pkg/audit"
)

func main() {
	dbPath := flag.String("db", "audit.db", "path to the audit sqlite database")
	tailN := flag.Int("n", 20, "number of records for the tail command")
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "verify"
	}

	sink, err := audit.OpenSQLiteSink(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer sink.Close()

	records, err := sink.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load records: %v\n", err)
		os.Exit(1)
	}

	switch cmd {
	case "verify":
		if !audit.VerifyChain(records) {
			fmt.Fprintln(os.Stderr, "FAIL: audit chain is broken or tampered")
			os.Exit(1)
		}
		fmt.Printf("OK: %d records, chain intact\n", len(records))
	case "tail":
		start := len(records) - *tailN
		if start < 0 {
			start = 0
		}
		for _, r := range records[start:] {
			fmt.Printf("%s %s tenant=%s principal=%s resource=%s rule=%s %s\n",
				r.Timestamp, r.Event.Action, r.Event.TenantID, r.Event.PrincipalID,
				r.Event.ResourceID, r.Event.Rule, r.Event.Detail)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want verify or tail)\n", cmd)
		os.Exit(1)
	}
}
