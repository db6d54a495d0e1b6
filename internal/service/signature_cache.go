package service

import (
	"context"
	"time"

	"github.com/spounge-ai/auditchain/internal/domain"
	"github.com/spounge-ai/auditchain/internal/signing"
	"github.com/spounge-ai/auditchain/pkg/cache"
)

const (
	signatureCacheTTL     = 10 * time.Minute
	signatureCacheEntries = 100_000
)

// signatureCache memoizes record signature checks. The key covers every
// input of the check, so a changed record never hits a stale entry.
type signatureCache struct {
	signer Signer
	store  *cache.Cache[string, signing.VerifyResult]
}

func newSignatureCache(signer Signer) *signatureCache {
	return &signatureCache{
		signer: signer,
		store: cache.New[string, signing.VerifyResult](
			cache.WithDefaultTTL[string, signing.VerifyResult](signatureCacheTTL),
			cache.WithCleanupInterval[string, signing.VerifyResult](signatureCacheTTL),
			cache.WithMaxEntries[string, signing.VerifyResult](signatureCacheEntries),
		),
	}
}

func (c *signatureCache) verify(rec domain.AuditRecord) signing.VerifyResult {
	ctx := context.Background()
	key := rec.SignatureKeyID + "|" + rec.ChainHash + "|" + rec.Signature
	if res, ok := c.store.Get(ctx, key); ok {
		return res
	}
	res := c.signer.VerifyRecord(rec)
	c.store.Set(ctx, key, res, 0)
	return res
}

// check adapts verify to the chain verifier's signature hook.
func (c *signatureCache) check(rec domain.AuditRecord) (bool, string) {
	res := c.verify(rec)
	return res.Valid, res.Reason
}

func (c *signatureCache) stop() {
	c.store.Stop()
}
