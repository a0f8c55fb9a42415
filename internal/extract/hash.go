package extract

import (
	"crypto/md5" //nolint:gosec // md5 is the search engine's asset digest, not a security primitive
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"
)

// base64LineLength is the MIME line length the icon hash is computed over.
const base64LineLength = 76

// FaviconHash returns the search engine's icon hash of data: the signed
// 32-bit MurmurHash3 of its MIME base64 encoding, where every 76-character
// line and the final line end with a newline.
func FaviconHash(data []byte) string {
	enc := base64.StdEncoding.EncodeToString(data)

	var b strings.Builder
	b.Grow(len(enc) + len(enc)/base64LineLength + 1)
	for len(enc) > base64LineLength {
		b.WriteString(enc[:base64LineLength])
		b.WriteByte('\n')
		enc = enc[base64LineLength:]
	}
	b.WriteString(enc)
	b.WriteByte('\n')

	return strconv.FormatInt(int64(int32(murmur3.Sum32([]byte(b.String())))), 10) //nolint:gosec // signed reinterpretation is the format
}

// ContentHash returns the lowercase hex MD5 digest of data.
func ContentHash(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}
