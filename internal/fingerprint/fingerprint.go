// Package fingerprint derives the cache key for an answer from the inputs that
// can change it: the conversation, the normalized question, and the
// answer-shaping preferences of the caller's active organization.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// SchemaVersion is hashed first. Bump it whenever the key derivation or the
// cached payload changes shape so old entries stop matching.
const SchemaVersion = "answer-v1"

// Fingerprint is a 64-char lowercase hex BLAKE2b-256 digest.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

func (f Fingerprint) Valid() bool {
	if len(f) != hex.EncodedLen(blake2b.Size256) {
		return false
	}
	_, err := hex.DecodeString(string(f))
	return err == nil && strings.ToLower(string(f)) == string(f)
}

type Preferences struct {
	OrganizationID uuid.UUID
	Locale         string
	Timezone       string
	UnitSystem     string
	DateFormat     string
	NumberFormat   string
	Currency       string
}

type Input struct {
	ConversationID uuid.UUID
	Query          string
	Preferences    Preferences
}

// NormalizeQuery applies NFKC, full case folding and whitespace collapsing.
// Queries that normalize to "" are not cacheable.
func NormalizeQuery(q string) string {
	q = norm.NFKC.String(q)
	q = cases.Fold().String(q)
	return strings.Join(strings.FieldsFunc(q, unicode.IsSpace), " ")
}

func Compute(in Input) Fingerprint {
	h, _ := blake2b.New256(nil)
	var lenBuf [binary.MaxVarintLen64]byte
	write := func(s string) {
		n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
		_, _ = h.Write(lenBuf[:n])
		_, _ = h.Write([]byte(s))
	}

	p := in.Preferences
	write(SchemaVersion)
	write(in.ConversationID.String())
	write(NormalizeQuery(in.Query))
	write(p.OrganizationID.String())
	write(normPref(p.Locale))
	write(normPref(p.Timezone))
	write(normPref(p.UnitSystem))
	write(normPref(p.DateFormat))
	write(normPref(p.NumberFormat))
	write(normPref(p.Currency))

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func normPref(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
