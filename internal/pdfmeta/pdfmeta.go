// Package pdfmeta reads the document information of downloaded PDF files.
//
// Design decision: the info dictionary and XMP packet are located with
// regular expressions over raw bytes instead of a full PDF object parser.
// Most producers write the dictionary uncompressed near the start or end of
// the file, so reading the head and tail is enough, and a malformed file
// simply yields fewer fields.
package pdfmeta

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Metadata keys.
const (
	KeyTitle        = "title"
	KeyAuthor       = "author"
	KeySubject      = "subject"
	KeyKeywords     = "keywords"
	KeyCreator      = "creator"
	KeyProducer     = "producer"
	KeyCreationDate = "creationDate"
	KeyModDate      = "modDate"
	KeyVersion      = "version"
	KeyXMPTool      = "xmp_tool"
	KeyXMPProducer  = "xmp_producer"
	KeyXMPDocID     = "xmp_documentId"
)

const (
	// headSize and tailSize bound how much of a file ExtractFile reads.
	headSize = 1 << 20
	tailSize = 64 << 10
)

// ErrNotPDF is returned by ExtractFile when the file has no PDF header.
var ErrNotPDF = errors.New("not a PDF file")

// infoPatterns match literal "(...)" or hex "<...>" values of info dictionary keys.
var infoPatterns = map[string]*regexp.Regexp{
	KeyTitle:        infoPattern("Title"),
	KeyAuthor:       infoPattern("Author"),
	KeySubject:      infoPattern("Subject"),
	KeyKeywords:     infoPattern("Keywords"),
	KeyCreator:      infoPattern("Creator"),
	KeyProducer:     infoPattern("Producer"),
	KeyCreationDate: infoPattern("CreationDate"),
	KeyModDate:      infoPattern("ModDate"),
}

var xmpPatterns = map[string]*regexp.Regexp{
	KeyXMPTool:     regexp.MustCompile(`xmp:CreatorTool>([^<]+)<`),
	KeyXMPProducer: regexp.MustCompile(`pdf:Producer>([^<]+)<`),
	KeyXMPDocID:    regexp.MustCompile(`xmpMM:DocumentID>([^<]+)<`),
}

var versionPattern = regexp.MustCompile(`^%PDF-(\d\.\d)`)

func infoPattern(key string) *regexp.Regexp {
	return regexp.MustCompile(`/` + key + `\s*(?:\(((?:\\.|[^\\)])*)\)|<([0-9A-Fa-f\s]*)>)`)
}

// Extract returns the metadata fields found in data. Empty values are omitted.
// It returns nil when nothing was found.
func Extract(data []byte) map[string]string {
	content := string(data)
	meta := make(map[string]string)

	if m := versionPattern.FindStringSubmatch(content); m != nil {
		meta[KeyVersion] = m[1]
	}

	for key, pattern := range infoPatterns {
		m := pattern.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		var value string
		switch {
		case m[1] != "":
			value = decodeLiteral(m[1])
		case m[2] != "":
			value = decodeHex(m[2])
		}
		if value = strings.TrimSpace(value); value != "" {
			meta[key] = value
		}
	}

	for key, pattern := range xmpPatterns {
		if m := pattern.FindStringSubmatch(content); m != nil {
			if value := strings.TrimSpace(m[1]); value != "" {
				meta[key] = value
			}
		}
	}

	if len(meta) == 0 {
		return nil
	}
	return meta
}

// ExtractFile reads the head and tail of the PDF at path and extracts its metadata.
func ExtractFile(path string) (map[string]string, error) {
	f, err := os.Open(path) //nolint:gosec // path is a download target chosen by the caller
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	head := make([]byte, min(info.Size(), headSize))
	if _, err := io.ReadFull(f, head); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !strings.HasPrefix(string(head), "%PDF-") {
		return nil, ErrNotPDF
	}

	data := head
	if rest := info.Size() - int64(len(head)); rest > 0 {
		n := min(rest, tailSize)
		tail := make([]byte, n)
		if _, err := f.ReadAt(tail, info.Size()-n); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		data = append(data, tail...)
	}

	return Extract(data), nil
}

// decodeLiteral decodes a PDF literal string: backslash escapes, octal
// escapes, and a UTF-16BE byte order mark.
func decodeLiteral(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b = append(b, c)
			continue
		}
		i++
		switch e := s[i]; e {
		case 'n':
			b = append(b, '\n')
		case 'r':
			b = append(b, '\r')
		case 't':
			b = append(b, '\t')
		case 'b':
			b = append(b, '\b')
		case 'f':
			b = append(b, '\f')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			v := 0
			j := i
			for ; j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7'; j++ {
				v = v*8 + int(s[j]-'0')
			}
			b = append(b, byte(v))
			i = j - 1
		default:
			b = append(b, e)
		}
	}
	return decodeText(b)
}

// decodeHex decodes a PDF hex string. An odd digit count is padded with 0.
func decodeHex(s string) string {
	s = strings.Join(strings.Fields(s), "")
	if len(s)%2 == 1 {
		s += "0"
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return ""
	}
	return decodeText(b)
}

// decodeText converts PDF text string bytes to UTF-8. Strings with a
// UTF-16BE BOM are decoded as UTF-16, everything else as Latin-1, which
// matches PDFDocEncoding for printable characters.
func decodeText(b []byte) string {
	if len(b) >= 2 && b[0] == 0xfe && b[1] == 0xff {
		out, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(b)
		if err == nil {
			return string(out)
		}
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
