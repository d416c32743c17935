package record

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Domain prefixes for content hashes. The version suffix allows the
// algorithm to change without colliding with old digests.
const (
	DomainResource = "streamcore/resource/v1"
	DomainState    = "streamcore/state/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := NewDigest(domain)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// NewDigest returns a SHA-256 hash already seeded with the domain and its
// null separator. Callers stream data into it and hex-encode the sum.
func NewDigest(domain string) hash.Hash {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	return h
}

// Checksum returns the content checksum of a resource payload.
func Checksum(payload []byte) string {
	return hashWithDomain(DomainResource, payload)
}
