package main

import (
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spounge-ai/auditchain/internal/signing"
)

func runKeygen(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	bits := fs.Int("bits", signing.DefaultKeyBits, "RSA modulus size")
	privateOut := fs.String("private-out", "", "file for the PKCS#8 private key (required)")
	publicOut := fs.String("public-out", "", "file for the public key, stdout when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *privateOut == "" {
		return errors.New("-private-out is required")
	}

	privatePEM, publicPEM, err := signing.GenerateKeyPair(*bits, rand.Reader)
	if err != nil {
		return err
	}
	if err := writeNew(*privateOut, privatePEM, 0o600); err != nil {
		return err
	}
	if *publicOut == "" {
		_, err = fmt.Fprint(stdout, publicPEM)
		return err
	}
	return writeNew(*publicOut, publicPEM, 0o644)
}

func runPubkey(args []string, stdout io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("pubkey", flag.ContinueOnError)
	privateIn := fs.String("private-key", "", "PEM private key file (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *privateIn == "" {
		return errors.New("-private-key is required")
	}

	pemText, err := os.ReadFile(*privateIn)
	if err != nil {
		return err
	}
	svc, err := signing.NewService(signing.KeyMaterial{PrivateKeyPEM: string(pemText)},
		signing.WithProduction(true), signing.WithLogger(logger))
	if err != nil {
		return err
	}
	publicPEM, _ := svc.ExportPublicKey()
	_, err = fmt.Fprintf(stdout, "# key_id: %s\n%s", svc.KeyID(), publicPEM)
	return err
}

// writeNew refuses to overwrite existing key files.
func writeNew(path, content string, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
