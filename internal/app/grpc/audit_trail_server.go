package grpc

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/spounge-ai/auditchain/internal/app/grpc/codec"
	"github.com/spounge-ai/auditchain/internal/app/grpc/interceptors"
	app_errors "github.com/spounge-ai/auditchain/internal/errors"
	"github.com/spounge-ai/auditchain/internal/service"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

var requestSchemas = map[string]interceptors.RequestSchema{
	MethodSealEntry: {
		Allowed: []string{"entry", "entry_json"},
		OneOf:   []string{"entry", "entry_json"},
	},
	MethodCreateRecord: {
		Allowed: []string{"entry", "entry_json", "previous_hash", "sequence_number", "sign"},
		OneOf:   []string{"entry", "entry_json"},
	},
	MethodVerifyChain: {
		Allowed: []string{"records", "require_signatures"},
	},
	MethodListRecords: {
		Allowed: []string{"from_sequence", "limit"},
	},
	MethodVerifySignature: {
		Allowed: []string{"data", "signature"},
	},
}

type createRecordRequest struct {
	PreviousHash   string `validate:"omitempty,len=64,hexadecimal,lowercase"`
	SequenceNumber uint64
	Sign           bool
}

type listRecordsRequest struct {
	FromSequence uint64
	Limit        uint64 `validate:"lte=1000"`
}

type verifySignatureRequest struct {
	Data      string `validate:"max=65536"`
	Signature string `validate:"max=2048"`
}

type auditTrailServer struct {
	trail           service.AuditTrail
	errorClassifier *app_errors.ErrorClassifier
	validate        *validator.Validate
	logger          *slog.Logger
}

func newAuditTrailServer(trail service.AuditTrail, errorClassifier *app_errors.ErrorClassifier, logger *slog.Logger) *auditTrailServer {
	return &auditTrailServer{
		trail:           trail,
		errorClassifier: errorClassifier,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		logger:          logger,
	}
}

func (s *auditTrailServer) fail(ctx context.Context, err error, method string) error {
	return s.errorClassifier.LogAndSanitize(ctx, s.errorClassifier.Classify(err, method))
}

func (s *auditTrailServer) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return codec.Invalidf("%v", err)
	}
	return nil
}

func (s *auditTrailServer) SealEntry(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	entry, err := codec.EntryFrom(req.GetFields(), "entry", "entry_json")
	if err != nil {
		return nil, s.fail(ctx, err, MethodSealEntry)
	}
	rec, err := s.trail.Seal(ctx, entry)
	if err != nil {
		return nil, s.fail(ctx, err, MethodSealEntry)
	}
	resp, err := codec.RecordStruct(rec)
	if err != nil {
		return nil, s.fail(ctx, err, MethodSealEntry)
	}
	return resp, nil
}

func (s *auditTrailServer) CreateRecord(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	entry, err := codec.EntryFrom(fields, "entry", "entry_json")
	if err != nil {
		return nil, s.fail(ctx, err, MethodCreateRecord)
	}

	var r createRecordRequest
	if r.PreviousHash, err = codec.StringField(fields, "previous_hash"); err != nil {
		return nil, s.fail(ctx, err, MethodCreateRecord)
	}
	if r.SequenceNumber, err = codec.UintField(fields, "sequence_number"); err != nil {
		return nil, s.fail(ctx, err, MethodCreateRecord)
	}
	if r.Sign, err = codec.BoolField(fields, "sign"); err != nil {
		return nil, s.fail(ctx, err, MethodCreateRecord)
	}
	if err := s.check(r); err != nil {
		return nil, s.fail(ctx, err, MethodCreateRecord)
	}

	rec, err := s.trail.CreateRecord(ctx, entry, r.PreviousHash, r.SequenceNumber, r.Sign)
	if err != nil {
		return nil, s.fail(ctx, err, MethodCreateRecord)
	}
	resp, err := codec.RecordStruct(rec)
	if err != nil {
		return nil, s.fail(ctx, err, MethodCreateRecord)
	}
	return resp, nil
}

func (s *auditTrailServer) VerifyChain(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	records, err := codec.RecordsFrom(fields)
	if err != nil {
		return nil, s.fail(ctx, err, MethodVerifyChain)
	}
	requireSignatures, err := codec.BoolField(fields, "require_signatures")
	if err != nil {
		return nil, s.fail(ctx, err, MethodVerifyChain)
	}

	result, err := s.trail.VerifyRecords(ctx, records, requireSignatures)
	if err != nil {
		return nil, s.fail(ctx, err, MethodVerifyChain)
	}
	resp, err := codec.VerificationStruct(result)
	if err != nil {
		return nil, s.fail(ctx, err, MethodVerifyChain)
	}
	return resp, nil
}

func (s *auditTrailServer) VerifyLedger(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	result, err := s.trail.VerifyLedger(ctx)
	if err != nil {
		return nil, s.fail(ctx, err, MethodVerifyLedger)
	}
	resp, err := codec.VerificationStruct(result)
	if err != nil {
		return nil, s.fail(ctx, err, MethodVerifyLedger)
	}
	return resp, nil
}

func (s *auditTrailServer) ListRecords(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	var (
		r   listRecordsRequest
		err error
	)
	if r.FromSequence, err = codec.UintField(fields, "from_sequence"); err != nil {
		return nil, s.fail(ctx, err, MethodListRecords)
	}
	if r.Limit, err = codec.UintField(fields, "limit"); err != nil {
		return nil, s.fail(ctx, err, MethodListRecords)
	}
	if err := s.check(r); err != nil {
		return nil, s.fail(ctx, err, MethodListRecords)
	}

	records, err := s.trail.ListRecords(ctx, r.FromSequence, int(r.Limit))
	if err != nil {
		return nil, s.fail(ctx, err, MethodListRecords)
	}

	extra := map[string]any{}
	if n := len(records); n > 0 {
		extra["next_sequence"] = records[n-1].SequenceNumber + 1
	}
	resp, err := codec.RecordsStruct("records", records, extra)
	if err != nil {
		return nil, s.fail(ctx, err, MethodListRecords)
	}
	return resp, nil
}

func (s *auditTrailServer) VerifySignature(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	var (
		r   verifySignatureRequest
		err error
	)
	if r.Data, err = codec.StringField(fields, "data"); err != nil {
		return nil, s.fail(ctx, err, MethodVerifySignature)
	}
	if r.Signature, err = codec.StringField(fields, "signature"); err != nil {
		return nil, s.fail(ctx, err, MethodVerifySignature)
	}
	if err := s.check(r); err != nil {
		return nil, s.fail(ctx, err, MethodVerifySignature)
	}

	resp, err := codec.SignatureResultStruct(s.trail.VerifySignature(ctx, r.Data, r.Signature))
	if err != nil {
		return nil, s.fail(ctx, err, MethodVerifySignature)
	}
	return resp, nil
}

func (s *auditTrailServer) GetPublicKey(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	info, err := s.trail.PublicKey(ctx)
	if err != nil {
		return nil, s.fail(ctx, err, MethodGetPublicKey)
	}
	resp, err := codec.PublicKeyStruct(info)
	if err != nil {
		return nil, s.fail(ctx, err, MethodGetPublicKey)
	}
	return resp, nil
}

func (s *auditTrailServer) ArchiveLedger(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	manifest, err := s.trail.Archive(ctx)
	if err != nil {
		return nil, s.fail(ctx, err, MethodArchiveLedger)
	}
	resp, err := codec.ManifestStruct(manifest)
	if err != nil {
		return nil, s.fail(ctx, err, MethodArchiveLedger)
	}
	return resp, nil
}
