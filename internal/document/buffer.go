package document

import (
	"strings"
	"unicode"

	"go.lsp.dev/uri"

	"github.com/alucardeht/code-fader/internal/types"
)

// Buffer is an immutable snapshot of one document's text. Character offsets
// in every Position are UTF-16 code units.
type Buffer struct {
	uri        uri.URI
	languageID string
	version    int32
	text       string
	lines      []string
	fromDisk   bool
}

func NewBuffer(u uri.URI, languageID string, version int32, text string) *Buffer {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return &Buffer{
		uri:        u,
		languageID: languageID,
		version:    version,
		text:       text,
		lines:      lines,
	}
}

func (b *Buffer) ID() string         { return string(b.uri) }
func (b *Buffer) URI() uri.URI       { return b.uri }
func (b *Buffer) LanguageID() string { return b.languageID }
func (b *Buffer) Version() int32     { return b.version }
func (b *Buffer) Content() string    { return b.text }

// FromDisk reports whether the buffer was loaded by the daemon rather than
// opened by the host.
func (b *Buffer) FromDisk() bool { return b.fromDisk }

// Path returns the filesystem path for file URIs, "" otherwise.
func (b *Buffer) Path() string {
	if !IsFileURI(b.uri) {
		return ""
	}
	return b.uri.Filename()
}

func (b *Buffer) LineCount() int {
	return len(b.lines)
}

// LineRange spans line i from its first character to its last, excluding
// the line break.
func (b *Buffer) LineRange(i int) types.Range {
	if i < 0 || i >= len(b.lines) {
		return types.NewRange(i, 0, i, 0)
	}
	return types.NewRange(i, 0, i, utf16Len(b.lines[i]))
}

// Text returns the text covered by r. Lines are joined with "\n".
func (b *Buffer) Text(r types.Range) string {
	if r.Start.Line < 0 || r.Start.Line >= len(b.lines) || r.End.Less(r.Start) {
		return ""
	}
	if r.IsSingleLine() {
		line := b.lines[r.Start.Line]
		return line[byteOffset(line, r.Start.Character):byteOffset(line, r.End.Character)]
	}

	var sb strings.Builder
	first := b.lines[r.Start.Line]
	sb.WriteString(first[byteOffset(first, r.Start.Character):])
	for i := r.Start.Line + 1; i < r.End.Line && i < len(b.lines); i++ {
		sb.WriteByte('\n')
		sb.WriteString(b.lines[i])
	}
	if r.End.Line < len(b.lines) {
		last := b.lines[r.End.Line]
		sb.WriteByte('\n')
		sb.WriteString(last[:byteOffset(last, r.End.Character)])
	}
	return sb.String()
}

// WordRangeAt returns the word that contains pos or ends exactly at it.
func (b *Buffer) WordRangeAt(pos types.Position) (types.Range, bool) {
	if pos.Line < 0 || pos.Line >= len(b.lines) || pos.Character < 0 {
		return types.Range{}, false
	}

	runes := []rune(b.lines[pos.Line])
	offsets := make([]int, len(runes)+1)
	for i, r := range runes {
		offsets[i+1] = offsets[i] + utf16RuneLen(r)
	}
	if pos.Character > offsets[len(runes)] {
		return types.Range{}, false
	}

	k := 0
	for k < len(runes) && offsets[k] < pos.Character {
		k++
	}

	start, end := k, k
	for start > 0 && isWordRune(runes[start-1]) {
		start--
	}
	for end < len(runes) && isWordRune(runes[end]) {
		end++
	}
	if start == end {
		return types.Range{}, false
	}

	return types.NewRange(pos.Line, offsets[start], pos.Line, offsets[end]), true
}

func (b *Buffer) withVersion(version int32, text string) *Buffer {
	next := NewBuffer(b.uri, b.languageID, version, text)
	next.fromDisk = b.fromDisk
	return next
}

func isWordRune(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16RuneLen(r)
	}
	return n
}

// byteOffset converts a UTF-16 offset into a byte offset within line,
// clamped to the line length.
func byteOffset(line string, char int) int {
	if char <= 0 {
		return 0
	}
	units := 0
	for i, r := range line {
		if units >= char {
			return i
		}
		units += utf16RuneLen(r)
	}
	return len(line)
}

func IsFileURI(u uri.URI) bool {
	return strings.HasPrefix(string(u), uri.FileScheme+"://")
}

// utf16RuneLen mirrors unicode/utf16.RuneLen (Go 1.23+) for older toolchains:
// the number of UTF-16 code units needed to encode r, or -1 if r is not a
// valid Unicode scalar value.
func utf16RuneLen(r rune) int {
	switch {
	case 0 <= r && r < 0xd800, 0xe000 <= r && r < 0x10000:
		return 1
	case 0x10000 <= r && r <= unicode.MaxRune:
		return 2
	default:
		return -1
	}
}
