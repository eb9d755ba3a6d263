package parse

import (
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// decodeText returns a reader of valid UTF-8. GTFS mandates UTF-8 but
// older European exports still ship Latin-1; those are transcoded
// instead of rejected.
func decodeText(r io.Reader) (io.Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if utf8.Valid(data) {
		return bytes.NewReader(data), nil
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(decoded), nil
}
