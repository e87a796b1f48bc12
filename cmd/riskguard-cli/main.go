package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"riskguard/pkg/riskguard"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: riskguard-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version           Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  accounts          List monitored accounts\n")
		fmt.Fprintf(os.Stderr, "  account <id>      Show one account in detail\n")
		fmt.Fprintf(os.Stderr, "  lockouts          List active lockouts\n")
		fmt.Fprintf(os.Stderr, "  audit [-limit n]  Show recent audit entries\n")
		fmt.Fprintf(os.Stderr, "\nThe server address comes from RISKGUARD_ADDR (default http://localhost:8090).\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	client := riskguard.NewClient(baseURL())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "version":
		fmt.Printf("riskguard-cli %s\n", version)

	case "accounts":
		rows, err := client.Accounts(ctx)
		check(err)
		fmt.Printf("%-12s %8s %12s %8s %-8s %s\n", "ACCOUNT", "NET", "REALIZED", "TRADES", "LOCKED", "DEGRADED")
		for _, r := range rows {
			fmt.Printf("%-12s %8d %12.2f %8d %-8v %s\n",
				r.Account, r.NetContracts, r.RealizedPnL, r.SessionTrades, r.Locked, mark(r.Degraded))
		}

	case "account":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: riskguard-cli account <id>")
			os.Exit(1)
		}
		raw, err := client.Account(ctx, os.Args[2])
		check(err)
		printJSON(raw)

	case "lockouts":
		locks, err := client.Lockouts(ctx)
		check(err)
		if len(locks) == 0 {
			fmt.Println("no active lockouts")
			return
		}
		fmt.Printf("%-12s %-10s %-20s %-12s %s\n", "ACCOUNT", "SEVERITY", "EXPIRES", "UNTIL-RESET", "REASON")
		for _, l := range locks {
			fmt.Printf("%-12s %-10s %-20s %-12v %s\n",
				l.Account, l.SeverityName(), formatExpiry(l.Expiry), l.UntilReset, l.Reason)
		}

	case "audit":
		fs := flag.NewFlagSet("audit", flag.ExitOnError)
		limit := fs.Int("limit", 20, "maximum entries to show")
		fs.Parse(os.Args[2:])

		entries, err := client.Audit(ctx, *limit)
		check(err)
		for _, e := range entries {
			fmt.Printf("%s  %-12s %-10s %-10s %s\n",
				e.Time.Format(time.RFC3339), e.Account, e.Rule, e.Outcome, e.Reason)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
}

func baseURL() string {
	if v := os.Getenv("RISKGUARD_ADDR"); v != "" {
		return v
	}
	return "http://localhost:8090"
}

func check(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(raw json.RawMessage) {
	var buf map[string]any
	if err := json.Unmarshal(raw, &buf); err != nil {
		fmt.Println(string(raw))
		return
	}
	pretty, _ := json.MarshalIndent(buf, "", "  ")
	fmt.Println(string(pretty))
}

func mark(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
