package request

import (
	"strconv"
	"strings"

	"github.com/BobDickinson/corona-s3/internal/auth"
)

// ListQuery holds the optional ListObjects parameters. Empty strings and a
// zero MaxKeys are left out of the query.
type ListQuery struct {
	Delimiter string
	Prefix    string
	MaxKeys   int
	Marker    string
}

// Encode renders the present parameters as "?k=v&k=v", or "" if none are
// set. Values are percent-encoded. The parameter order is fixed here but is
// not part of the contract with the service.
func (q ListQuery) Encode() string {
	var sb strings.Builder
	appendOpt(&sb, "delimiter", q.Delimiter)
	appendOpt(&sb, "marker", q.Marker)
	if q.MaxKeys > 0 {
		appendOpt(&sb, "max-keys", strconv.Itoa(q.MaxKeys))
	}
	appendOpt(&sb, "prefix", q.Prefix)
	return sb.String()
}

func appendOpt(sb *strings.Builder, k, v string) {
	if v == "" {
		return
	}
	if sb.Len() == 0 {
		sb.WriteByte('?')
	} else {
		sb.WriteByte('&')
	}
	sb.WriteString(k)
	sb.WriteByte('=')
	sb.WriteString(auth.URIEncode(v, true))
}
