// Package codec maps audit trail values to and from protobuf Structs.
package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/spounge-ai/auditchain/internal/domain"
	app_errors "github.com/spounge-ai/auditchain/internal/errors"
	"github.com/spounge-ai/auditchain/internal/service"
	"github.com/spounge-ai/auditchain/internal/signing"
	"github.com/spounge-ai/auditchain/pkg/canonical"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Struct numbers are doubles, so integers above 2^53 cannot cross the wire
// exactly. Entries that need them travel as canonical JSON text instead.
const MaxExactInteger = 1 << 53

// Record field names. canonical_data carries the exact canonical bytes of
// data and wins over data when both are present.
const (
	fieldSequenceNumber = "sequence_number"
	fieldTimestamp      = "timestamp"
	fieldPreviousHash   = "previous_hash"
	fieldEntryHash      = "entry_hash"
	fieldChainHash      = "chain_hash"
	fieldData           = "data"
	fieldCanonicalData  = "canonical_data"
	fieldSignature      = "signature"
	fieldSignatureKeyID = "signature_key_id"
)

// Invalidf builds an error wrapping ErrInvalidInput.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{app_errors.ErrInvalidInput}, args...)...)
}

// EntryFrom reads an entry given either as a Struct value under valueKey or
// as canonical JSON text under jsonKey.
func EntryFrom(fields map[string]*structpb.Value, valueKey, jsonKey string) (canonical.Value, error) {
	if text, ok := fields[jsonKey]; ok {
		s, isString := text.GetKind().(*structpb.Value_StringValue)
		if !isString {
			return canonical.Value{}, Invalidf("%s must be a string", jsonKey)
		}
		v, err := canonical.FromJSON([]byte(s.StringValue))
		if err != nil {
			return canonical.Value{}, Invalidf("%s: %v", jsonKey, err)
		}
		return v, nil
	}
	raw, ok := fields[valueKey]
	if !ok {
		return canonical.Value{}, Invalidf("%s is required", valueKey)
	}
	return canonical.FromAny(raw.AsInterface())
}

func StringField(fields map[string]*structpb.Value, key string) (string, error) {
	v, ok := fields[key]
	if !ok {
		return "", nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return "", nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", Invalidf("%s must be a string", key)
	}
	return s.StringValue, nil
}

func BoolField(fields map[string]*structpb.Value, key string) (bool, error) {
	v, ok := fields[key]
	if !ok {
		return false, nil
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, Invalidf("%s must be a boolean", key)
	}
	return b.BoolValue, nil
}

func UintField(fields map[string]*structpb.Value, key string) (uint64, error) {
	v, ok := fields[key]
	if !ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, Invalidf("%s must be a number", key)
	}
	f := n.NumberValue
	if f < 0 || f > MaxExactInteger || f != math.Trunc(f) {
		return 0, Invalidf("%s must be a non-negative integer no greater than 2^53", key)
	}
	return uint64(f), nil
}

// RecordFromValue decodes the record at position index of a request or response.
func RecordFromValue(v *structpb.Value, index int) (domain.AuditRecord, error) {
	s := v.GetStructValue()
	if s == nil {
		return domain.AuditRecord{}, Invalidf("records[%d] must be an object", index)
	}
	fields := s.GetFields()

	var (
		rec domain.AuditRecord
		err error
	)
	if rec.SequenceNumber, err = UintField(fields, fieldSequenceNumber); err != nil {
		return rec, fmt.Errorf("records[%d]: %w", index, err)
	}
	strs := map[string]*string{
		fieldPreviousHash:   &rec.PreviousHash,
		fieldEntryHash:      &rec.EntryHash,
		fieldChainHash:      &rec.ChainHash,
		fieldSignature:      &rec.Signature,
		fieldSignatureKeyID: &rec.SignatureKeyID,
	}
	for key, dst := range strs {
		if *dst, err = StringField(fields, key); err != nil {
			return rec, fmt.Errorf("records[%d]: %w", index, err)
		}
	}

	ts, err := StringField(fields, fieldTimestamp)
	if err != nil {
		return rec, fmt.Errorf("records[%d]: %w", index, err)
	}
	if ts != "" {
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return rec, Invalidf("records[%d]: timestamp must be RFC 3339", index)
		}
	}

	if rec.Data, err = EntryFrom(fields, fieldData, fieldCanonicalData); err != nil {
		return rec, fmt.Errorf("records[%d]: %w", index, err)
	}
	return rec, nil
}

func RecordsFrom(fields map[string]*structpb.Value) ([]domain.AuditRecord, error) {
	raw, ok := fields["records"]
	if !ok {
		return nil, Invalidf("records is required")
	}
	list := raw.GetListValue()
	if list == nil {
		return nil, Invalidf("records must be a list")
	}
	if n := len(list.GetValues()); n > service.MaxVerifyRecords {
		return nil, Invalidf("at most %d records can be verified per call, got %d", service.MaxVerifyRecords, n)
	}

	out := make([]domain.AuditRecord, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		rec, err := RecordFromValue(v, i)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// RecordMap is the wire form of rec. data is lossy for integers above 2^53;
// canonical_data is exact.
func RecordMap(rec domain.AuditRecord) map[string]any {
	m := map[string]any{
		fieldSequenceNumber: rec.SequenceNumber,
		fieldTimestamp:      rec.Timestamp.UTC().Format(time.RFC3339Nano),
		fieldPreviousHash:   rec.PreviousHash,
		fieldEntryHash:      rec.EntryHash,
		fieldChainHash:      rec.ChainHash,
		fieldData:           rec.Data.Interface(),
		fieldCanonicalData:  rec.Data.String(),
	}
	if rec.IsSigned() {
		m[fieldSignature] = rec.Signature
		m[fieldSignatureKeyID] = rec.SignatureKeyID
	}
	return m
}

func RecordStruct(rec domain.AuditRecord) (*structpb.Struct, error) {
	return NewStruct(RecordMap(rec))
}

func RecordsStruct(key string, records []domain.AuditRecord, extra map[string]any) (*structpb.Struct, error) {
	list := make([]any, len(records))
	for i, rec := range records {
		list[i] = RecordMap(rec)
	}
	m := map[string]any{key: list}
	for k, v := range extra {
		m[k] = v
	}
	return NewStruct(m)
}

func VerificationStruct(result domain.VerificationResult) (*structpb.Struct, error) {
	anomalies := make([]any, len(result.Anomalies))
	for i, a := range result.Anomalies {
		m := map[string]any{
			"record_index":    a.RecordIndex,
			"sequence_number": a.SequenceNumber,
			"issue":           string(a.Issue),
		}
		if a.Expected != "" {
			m["expected"] = a.Expected
		}
		if a.Actual != "" {
			m["actual"] = a.Actual
		}
		anomalies[i] = m
	}
	return NewStruct(map[string]any{
		"valid":           result.Valid,
		"records_checked": result.RecordsChecked,
		"anomalies":       anomalies,
	})
}

func SignatureResultStruct(res signing.VerifyResult) (*structpb.Struct, error) {
	m := map[string]any{"valid": res.Valid}
	if res.Reason != "" {
		m["reason"] = res.Reason
	}
	return NewStruct(m)
}

func PublicKeyStruct(info service.PublicKeyInfo) (*structpb.Struct, error) {
	return NewStruct(map[string]any{
		"public_key_pem": info.PEM,
		"key_id":         info.KeyID,
		"algorithm":      info.Algorithm,
	})
}

func ManifestStruct(m service.ArchiveManifest) (*structpb.Struct, error) {
	out := map[string]any{
		"object_key":           m.ObjectKey,
		"manifest_key":         m.ManifestKey,
		"records":              m.Records,
		"head_sequence_number": m.HeadSequence,
		"head_chain_hash":      m.HeadChainHash,
		"snapshot_sha256":      m.SnapshotSHA256,
		"created_at":           m.CreatedAt.Format(time.RFC3339Nano),
	}
	if m.KeyID != "" {
		out["key_id"] = m.KeyID
		out["algorithm"] = m.Algorithm
	}
	return NewStruct(out)
}

func NewStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to build response: %w", err)
	}
	return s, nil
}

// Decode fills out, a value with JSON tags, from s.
func Decode(s *structpb.Struct, out any) error {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	return nil
}
