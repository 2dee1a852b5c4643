package payment

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxMemoLength = 50

// NewReferenceCode returns a short upper-case code that is safe to type into
// a bank transfer memo.
func NewReferenceCode(prefix string) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return strings.ToUpper(prefix) + id[:10]
}

// TransferMemo builds "<REF> <NAME> <DDMMYYYY>" in plain ASCII. The name is
// shortened first when the memo would exceed the bank limit.
func TransferMemo(referenceCode, customerName string, at time.Time) string {
	date := at.Format("02012006")
	name := foldASCII(customerName)

	budget := maxMemoLength - len(referenceCode) - len(date) - 2
	if budget <= 0 || name == "" {
		return referenceCode + " " + date
	}
	if len(name) > budget {
		name = strings.TrimSpace(name[:budget])
	}
	return referenceCode + " " + name + " " + date
}

// foldASCII strips diacritics, maps đ to d and drops everything that is not
// a letter, digit or space.
func foldASCII(s string) string {
	s = strings.NewReplacer("đ", "d", "Đ", "D").Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
