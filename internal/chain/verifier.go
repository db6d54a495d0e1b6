package chain

import (
	"context"
	"fmt"

	"github.com/spounge-ai/auditchain/internal/domain"
	"github.com/spounge-ai/auditchain/pkg/canonical"
	"github.com/spounge-ai/auditchain/pkg/patterns/batch"
)

const (
	diagnosticPrefixLen = 16
	unencodable         = "<unencodable>"
)

// SignatureChecker reports whether a signed record's signature is valid, and
// why not when it is not.
type SignatureChecker func(record domain.AuditRecord) (valid bool, reason string)

// Verifier checks an ordered sequence of records. The zero configuration
// performs exactly the previous-hash and chain-hash checks; every other check
// is opt-in.
type Verifier struct {
	checkEntryHash    bool
	checkSequence     bool
	contiguous        bool
	checkSignature    SignatureChecker
	requireSignatures bool
	concurrency       int
}

type VerifyOption func(*Verifier)

// WithEntryHashCheck also compares each stored entry hash with a recomputed one.
func WithEntryHashCheck() VerifyOption {
	return func(v *Verifier) { v.checkEntryHash = true }
}

// WithSequenceCheck reports records whose sequence number does not increase.
// With contiguous set, numbering must start at 0 and step by exactly one.
func WithSequenceCheck(contiguous bool) VerifyOption {
	return func(v *Verifier) {
		v.checkSequence = true
		v.contiguous = contiguous
	}
}

// WithSignatureCheck verifies the signature of every signed record.
func WithSignatureCheck(check SignatureChecker) VerifyOption {
	return func(v *Verifier) { v.checkSignature = check }
}

// WithRequireSignatures reports unsigned records. It has no effect without WithSignatureCheck.
func WithRequireSignatures() VerifyOption {
	return func(v *Verifier) { v.requireSignatures = true }
}

// WithConcurrency recomputes record hashes on up to n goroutines.
func WithConcurrency(n int) VerifyOption {
	return func(v *Verifier) { v.concurrency = n }
}

func NewVerifier(opts ...VerifyOption) *Verifier {
	v := &Verifier{concurrency: 1}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var defaultVerifier = NewVerifier()

// VerifyChain checks previous-hash linkage and chain-hash correctness of every
// record and reports all anomalies found. It never modifies records.
func VerifyChain(records []domain.AuditRecord) domain.VerificationResult {
	return defaultVerifier.Verify(records)
}

type digest struct {
	chain string
	entry string
	err   error
}

func (v *Verifier) Verify(records []domain.AuditRecord) domain.VerificationResult {
	result := domain.VerificationResult{
		RecordsChecked: len(records),
		Anomalies:      []domain.Anomaly{},
	}
	digests := v.recompute(records)

	report := func(i int, kind domain.AnomalyKind, expected, actual string) {
		result.Anomalies = append(result.Anomalies, domain.Anomaly{
			RecordIndex:    i,
			SequenceNumber: records[i].SequenceNumber,
			Issue:          kind,
			Expected:       expected,
			Actual:         actual,
		})
	}

	for i, rec := range records {
		expectedPrev := GenesisHash
		if i > 0 {
			expectedPrev = records[i-1].ChainHash
		}
		switch {
		case rec.PreviousHash != expectedPrev:
			report(i, domain.AnomalyPreviousHashMismatch, truncate(expectedPrev), truncate(rec.PreviousHash))
		case i > 0 && digests[i-1].err == nil && digests[i-1].chain != rec.PreviousHash:
			// The link matches a predecessor hash that its own content no longer produces.
			report(i, domain.AnomalyPreviousHashMismatch, truncate(digests[i-1].chain), truncate(rec.PreviousHash))
		}

		d := digests[i]
		if d.err != nil {
			report(i, domain.AnomalyChainHashMismatch, unencodable, truncate(rec.ChainHash))
		} else if d.chain != rec.ChainHash {
			report(i, domain.AnomalyChainHashMismatch, truncate(d.chain), truncate(rec.ChainHash))
		}

		if v.checkEntryHash && d.err == nil && d.entry != rec.EntryHash {
			report(i, domain.AnomalyEntryHashMismatch, truncate(d.entry), truncate(rec.EntryHash))
		}

		if v.checkSequence && i == 0 && v.contiguous && rec.SequenceNumber != 0 {
			report(i, domain.AnomalySequenceOutOfOrder, "0", fmt.Sprint(rec.SequenceNumber))
		}
		if v.checkSequence && i > 0 {
			prev := records[i-1].SequenceNumber
			switch {
			case v.contiguous && rec.SequenceNumber != prev+1:
				report(i, domain.AnomalySequenceOutOfOrder, fmt.Sprint(prev+1), fmt.Sprint(rec.SequenceNumber))
			case !v.contiguous && rec.SequenceNumber <= prev:
				report(i, domain.AnomalySequenceOutOfOrder, fmt.Sprintf("> %d", prev), fmt.Sprint(rec.SequenceNumber))
			}
		}

		if v.checkSignature != nil {
			if rec.IsSigned() {
				if ok, reason := v.checkSignature(rec); !ok {
					report(i, domain.AnomalySignatureInvalid, rec.SignatureKeyID, reason)
				}
			} else if v.requireSignatures {
				report(i, domain.AnomalySignatureMissing, "", "")
			}
		}
	}

	result.Valid = len(result.Anomalies) == 0
	return result
}

func (v *Verifier) recompute(records []domain.AuditRecord) []digest {
	if v.concurrency > 1 && len(records) > v.concurrency {
		return v.recomputeParallel(records)
	}
	out := make([]digest, len(records))
	for i, rec := range records {
		out[i] = digestOf(rec)
	}
	return out
}

func (v *Verifier) recomputeParallel(records []domain.AuditRecord) []digest {
	bp := batch.BatchProcessor[domain.AuditRecord, digest]{
		MaxConcurrency: v.concurrency,
		Process: func(_ context.Context, rec domain.AuditRecord) (digest, error) {
			return digestOf(rec), nil
		},
	}
	res, _ := bp.ProcessBatch(context.Background(), records, true)

	out := make([]digest, len(records))
	for i, item := range res.Items {
		out[i] = item.Result
	}
	return out
}

func digestOf(rec domain.AuditRecord) digest {
	enc, err := canonical.Encode(rec.Data)
	if err != nil {
		return digest{err: err}
	}
	return digest{
		chain: chainHash(rec.PreviousHash, enc),
		entry: hashBytes(enc),
	}
}

func truncate(h string) string {
	if len(h) <= diagnosticPrefixLen {
		return h
	}
	return h[:diagnosticPrefixLen] + "..."
}
