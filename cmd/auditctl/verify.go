package main

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spounge-ai/auditchain/internal/chain"
	"github.com/spounge-ai/auditchain/internal/domain"
	"github.com/spounge-ai/auditchain/internal/signing"
)

const maxLineBytes = 16 << 20

type manifestCheck struct {
	SnapshotSHA256 string `json:"snapshot_sha256"`
	HeadChainHash  string `json:"head_chain_hash"`
	Records        int    `json:"records"`
}

type verifyReport struct {
	domain.VerificationResult
	ManifestErrors []string `json:"manifest_errors,omitempty"`
}

func runVerify(args []string, stdout io.Writer, logger *slog.Logger) (bool, error) {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	snapshotPath := fs.String("snapshot", "", "JSON array or JSONL snapshot to verify (required)")
	manifestPath := fs.String("manifest", "", "manifest written next to the snapshot")
	publicKeyPath := fs.String("public-key", "", "PEM public key used to check signatures")
	requireSigs := fs.Bool("require-signatures", false, "report unsigned records")
	partial := fs.Bool("partial", false, "the snapshot is a slice of a ledger, not the whole ledger")
	if err := fs.Parse(args); err != nil {
		return false, err
	}
	if *snapshotPath == "" {
		return false, errors.New("-snapshot is required")
	}
	if *requireSigs && *publicKeyPath == "" {
		return false, errors.New("-require-signatures needs -public-key")
	}

	raw, err := os.ReadFile(*snapshotPath)
	if err != nil {
		return false, err
	}
	records, err := decodeSnapshot(raw)
	if err != nil {
		return false, err
	}

	opts := []chain.VerifyOption{chain.WithEntryHashCheck(), chain.WithSequenceCheck(!*partial)}
	if *publicKeyPath != "" {
		pemText, err := os.ReadFile(*publicKeyPath)
		if err != nil {
			return false, err
		}
		verifier, err := signing.NewService(signing.KeyMaterial{PublicKeyPEM: string(pemText)},
			signing.WithProduction(true), signing.WithLogger(logger))
		if err != nil {
			return false, err
		}
		opts = append(opts, chain.WithSignatureCheck(func(rec domain.AuditRecord) (bool, string) {
			res := verifier.VerifyRecord(rec)
			return res.Valid, res.Reason
		}))
		if *requireSigs {
			opts = append(opts, chain.WithRequireSignatures())
		}
	}

	report := verifyReport{VerificationResult: chain.NewVerifier(opts...).Verify(records)}
	if *manifestPath != "" {
		report.ManifestErrors, err = checkManifest(*manifestPath, raw, records)
		if err != nil {
			return false, err
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return false, err
	}
	return report.Valid && len(report.ManifestErrors) == 0, nil
}

// decodeSnapshot accepts a JSON array of records or one record per line.
func decodeSnapshot(raw []byte) ([]domain.AuditRecord, error) {
	var records []domain.AuditRecord
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("invalid record array: %w", err)
		}
		return records, nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var rec domain.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func checkManifest(path string, snapshot []byte, records []domain.AuditRecord) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m manifestCheck
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	var problems []string
	sum := sha256.Sum256(snapshot)
	if got := hex.EncodeToString(sum[:]); got != m.SnapshotSHA256 {
		problems = append(problems, fmt.Sprintf("snapshot sha256 is %s, manifest says %s", got, m.SnapshotSHA256))
	}
	if len(records) != m.Records {
		problems = append(problems, fmt.Sprintf("snapshot holds %d records, manifest says %d", len(records), m.Records))
	}
	if len(records) > 0 && records[len(records)-1].ChainHash != m.HeadChainHash {
		problems = append(problems, "snapshot head chain hash does not match the manifest")
	}
	return problems, nil
}
