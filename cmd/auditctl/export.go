package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spounge-ai/auditchain/internal/client"
	"github.com/spounge-ai/auditchain/internal/domain"
)

// runExport pages a remote ledger into a JSONL snapshot that verify reads.
func runExport(args []string, stdout io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	addr := fs.String("addr", "localhost:50061", "server address")
	out := fs.String("out", "", "snapshot file to create (required)")
	clientID := fs.String("client-id", "auditctl", "identity sent in the x-client-id header")
	caFile := fs.String("ca", "", "CA certificate for TLS")
	certFile := fs.String("cert", "", "client certificate for mutual TLS")
	keyFile := fs.String("key", "", "client key for mutual TLS")
	timeout := fs.Duration("timeout", 30*time.Second, "per-call timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("-out is required")
	}

	c, err := client.New(client.Config{
		ServerAddr:     *addr,
		ClientID:       *clientID,
		CAFile:         *caFile,
		CertFile:       *certFile,
		KeyFile:        *keyFile,
		DefaultTimeout: *timeout,
	}, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	f, err := os.OpenFile(*out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	n, err := c.Export(ctx, func(rec domain.AuditRecord) error {
		return enc.Encode(rec)
	})
	if err == nil {
		err = w.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("export stopped after %d records: %w", n, err)
	}

	_, err = fmt.Fprintf(stdout, "exported %d records to %s\n", n, *out)
	return err
}
