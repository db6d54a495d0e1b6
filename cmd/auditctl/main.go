// Command auditctl exports audit ledgers, verifies exported snapshots offline
// and manages signing key files.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

const usage = `usage: auditctl <command> [flags]

commands:
  export   copy a server ledger into a JSONL snapshot
  verify   verify a ledger snapshot (JSON array or JSONL)
  keygen   generate an RSA signing key pair
  pubkey   print the public key and key id of a private key
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var err error
	switch args[0] {
	case "verify":
		var ok bool
		ok, err = runVerify(args[1:], stdout, logger)
		if err == nil && !ok {
			return 1
		}
	case "export":
		err = runExport(args[1:], stdout, logger)
	case "keygen":
		err = runKeygen(args[1:], stdout)
	case "pubkey":
		err = runPubkey(args[1:], stdout, logger)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	if err != nil {
		fmt.Fprintf(stderr, "auditctl %s: %v\n", args[0], err)
		return 2
	}
	return 0
}
