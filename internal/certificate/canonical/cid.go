package canonical

import (
	"strings"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	dErrors "certify/pkg/domain-errors"
)

// URIScheme prefixes content-addressed metadata URIs.
const URIScheme = "ipfs://"

// CID returns the CIDv1 (raw codec, sha2-256) of canonical bytes.
func CID(canon []byte) (cid.Cid, error) {
	sum, err := mh.Sum(canon, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash document")
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// ContentURI canonicalizes v and returns its ipfs:// URI.
func (e *Encoder) ContentURI(v any) (string, error) {
	canon, err := e.Encode(v)
	if err != nil {
		return "", err
	}
	c, err := CID(canon)
	if err != nil {
		return "", err
	}
	return URIScheme + c.String(), nil
}

// MatchesURI reports whether uri addresses exactly the canonical bytes given.
func MatchesURI(uri string, canon []byte) bool {
	raw, ok := strings.CutPrefix(strings.TrimSpace(uri), URIScheme)
	if !ok {
		return false
	}
	parsed, err := cid.Decode(raw)
	if err != nil {
		return false
	}
	want, err := CID(canon)
	if err != nil {
		return false
	}
	return parsed.Equals(want)
}
