// Package client is a Go client for the audit trail gRPC service.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spounge-ai/auditchain/internal/app/grpc"
	"github.com/spounge-ai/auditchain/internal/app/grpc/codec"
	"github.com/spounge-ai/auditchain/internal/app/grpc/interceptors"
	"github.com/spounge-ai/auditchain/internal/domain"
	"github.com/spounge-ai/auditchain/internal/service"
	"github.com/spounge-ai/auditchain/internal/signing"
	"github.com/spounge-ai/auditchain/pkg/canonical"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultTimeout = 30 * time.Second

// Config describes how to reach a server. Without CAFile the connection is
// plaintext; CertFile and KeyFile add a client certificate.
type Config struct {
	ServerAddr     string
	ClientID       string
	CAFile         string
	CertFile       string
	KeyFile        string
	DefaultTimeout time.Duration
	DialOptions    []gogrpc.DialOption
}

type Client struct {
	conn    *gogrpc.ClientConn
	cfg     Config
	timeout time.Duration
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.ServerAddr == "" {
		return nil, errors.New("server address is required")
	}
	creds, err := transportCredentials(cfg)
	if err != nil {
		return nil, err
	}

	opts := append([]gogrpc.DialOption{gogrpc.WithTransportCredentials(creds)}, cfg.DialOptions...)
	conn, err := gogrpc.NewClient(cfg.ServerAddr, opts...)
	if err != nil {
		return nil, fmt.Errorf("gRPC connection failed: %w", err)
	}

	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{conn: conn, cfg: cfg, timeout: timeout, logger: logger}, nil
}

func transportCredentials(cfg Config) (credentials.TransportCredentials, error) {
	if cfg.CAFile == "" {
		return insecure.NewCredentials(), nil
	}
	ca, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(ca) {
		return nil, errors.New("failed to add CA certificate")
	}
	tlsConfig := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return credentials.NewTLS(tlsConfig), nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req proto.Message) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if c.cfg.ClientID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, interceptors.ClientIDHeader, c.cfg.ClientID)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		c.logger.DebugContext(ctx, "call failed", "method", method, "error", err)
		return nil, err
	}
	return resp, nil
}

// SealEntry appends entry to the server ledger. The entry travels as
// canonical JSON text so large integers survive.
func (c *Client) SealEntry(ctx context.Context, entry canonical.Value) (domain.AuditRecord, error) {
	text, err := canonical.Encode(entry)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	req, err := codec.NewStruct(map[string]any{"entry_json": string(text)})
	if err != nil {
		return domain.AuditRecord{}, err
	}
	resp, err := c.invoke(ctx, grpc.MethodSealEntry, req)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	return codec.RecordFromValue(structpb.NewStructValue(resp), 0)
}

// ListRecords returns one page of records starting at fromSequence.
func (c *Client) ListRecords(ctx context.Context, fromSequence uint64, limit int) ([]domain.AuditRecord, error) {
	req, err := codec.NewStruct(map[string]any{"from_sequence": fromSequence, "limit": limit})
	if err != nil {
		return nil, err
	}
	resp, err := c.invoke(ctx, grpc.MethodListRecords, req)
	if err != nil {
		return nil, err
	}

	values := resp.GetFields()["records"].GetListValue().GetValues()
	records := make([]domain.AuditRecord, 0, len(values))
	for i, v := range values {
		rec, err := codec.RecordFromValue(v, i)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Export pages through the whole ledger and hands every record to fn in order.
func (c *Client) Export(ctx context.Context, fn func(domain.AuditRecord) error) (int, error) {
	var (
		from  uint64
		total int
	)
	for {
		page, err := c.ListRecords(ctx, from, service.MaxListLimit)
		if err != nil {
			return total, err
		}
		for _, rec := range page {
			if err := fn(rec); err != nil {
				return total, err
			}
			total++
		}
		if len(page) < service.MaxListLimit {
			return total, nil
		}
		from = page[len(page)-1].SequenceNumber + 1
	}
}

func (c *Client) VerifyLedger(ctx context.Context) (domain.VerificationResult, error) {
	resp, err := c.invoke(ctx, grpc.MethodVerifyLedger, &emptypb.Empty{})
	if err != nil {
		return domain.VerificationResult{}, err
	}
	var result domain.VerificationResult
	if err := codec.Decode(resp, &result); err != nil {
		return result, err
	}
	return result, nil
}

func (c *Client) VerifySignature(ctx context.Context, data, signature string) (signing.VerifyResult, error) {
	req, err := codec.NewStruct(map[string]any{"data": data, "signature": signature})
	if err != nil {
		return signing.VerifyResult{}, err
	}
	resp, err := c.invoke(ctx, grpc.MethodVerifySignature, req)
	if err != nil {
		return signing.VerifyResult{}, err
	}
	var result signing.VerifyResult
	if err := codec.Decode(resp, &result); err != nil {
		return result, err
	}
	return result, nil
}

func (c *Client) PublicKey(ctx context.Context) (service.PublicKeyInfo, error) {
	resp, err := c.invoke(ctx, grpc.MethodGetPublicKey, &emptypb.Empty{})
	if err != nil {
		return service.PublicKeyInfo{}, err
	}
	var info service.PublicKeyInfo
	if err := codec.Decode(resp, &info); err != nil {
		return info, err
	}
	return info, nil
}

func (c *Client) ArchiveLedger(ctx context.Context) (service.ArchiveManifest, error) {
	resp, err := c.invoke(ctx, grpc.MethodArchiveLedger, &emptypb.Empty{})
	if err != nil {
		return service.ArchiveManifest{}, err
	}
	var manifest service.ArchiveManifest
	if err := codec.Decode(resp, &manifest); err != nil {
		return manifest, err
	}
	return manifest, nil
}
