package parse

import (
	"bytes"
	"os"
)

// MinArchiveSize is the floor below which a file cannot be a usable
// GTFS archive. Upstream outage pages and stub error bodies are all
// smaller than this.
const MinArchiveSize = 1000

// Verdict classifies an on-disk archive before any decompression is
// attempted.
type Verdict int

const (
	ArchiveValid Verdict = iota
	ArchiveTooSmall
	ArchiveNotZip
	ArchiveLooksLikeHTML
	ArchiveUnreadable
)

func (v Verdict) String() string {
	switch v {
	case ArchiveValid:
		return "valid"
	case ArchiveTooSmall:
		return "too small"
	case ArchiveNotZip:
		return "not a zip archive"
	case ArchiveLooksLikeHTML:
		return "looks like an HTML page"
	case ArchiveUnreadable:
		return "unreadable"
	}
	return "unknown"
}

var zipMagics = [][]byte{
	{'P', 'K', 0x03, 0x04},
	{'P', 'K', 0x05, 0x06}, // empty archive
	{'P', 'K', 0x07, 0x08}, // spanned archive
}

// Validate checks the file at path cheaply, without opening it as a
// zip. Servers behind feed URLs sometimes return a login or outage
// page with status 200; catching that here means the bad bytes never
// reach the parser.
func Validate(path string) Verdict {
	info, err := os.Stat(path)
	if err != nil {
		return ArchiveUnreadable
	}
	if info.Size() < MinArchiveSize {
		return ArchiveTooSmall
	}

	f, err := os.Open(path)
	if err != nil {
		return ArchiveUnreadable
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil || n < 4 {
		return ArchiveUnreadable
	}
	head = head[:n]

	for _, magic := range zipMagics {
		if bytes.HasPrefix(head, magic) {
			return ArchiveValid
		}
	}

	sniff := bytes.ToLower(head)
	if bytes.Contains(sniff, []byte("<html")) || bytes.Contains(sniff, []byte("<!doctype")) {
		return ArchiveLooksLikeHTML
	}

	return ArchiveNotZip
}
