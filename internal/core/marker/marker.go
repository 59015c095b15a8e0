// Package marker encodes and decodes extension-owned text blocks inside
// behavior files.
//
// A block is wrapped in a pair of sentinel lines that carry the owning
// extension, the target behavior and the position:
//
//	<!-- extkit:begin ext="hello" target="aif-commit" position="append" -->
//	...injected text...
//	<!-- extkit:end ext="hello" target="aif-commit" position="append" -->
//
// Sentinels are recognised by a line scanner over that exact grammar. An end
// sentinel only closes a begin sentinel carrying the identical triple, so text
// that merely resembles a sentinel (or another extension's block) is treated
// as ordinary content.
package marker

import (
	"strconv"
	"strings"
)

// Position says where a block is placed inside its host file.
type Position string

const (
	Append  Position = "append"
	Prepend Position = "prepend"
)

// Valid reports whether p is a known position.
func (p Position) Valid() bool {
	return p == Append || p == Prepend
}

// Tag identifies one injected block. A file holds at most one live block per
// tag.
type Tag struct {
	Extension string
	Target    string
	Position  Position
}

const (
	sentinelPrefix = "<!-- extkit:"
	sentinelSuffix = " -->"

	kindBegin = "begin"
	kindEnd   = "end"
)

// Begin returns the opening sentinel line for t (without newline).
func (t Tag) Begin() string { return t.sentinel(kindBegin) }

// End returns the closing sentinel line for t (without newline).
func (t Tag) End() string { return t.sentinel(kindEnd) }

func (t Tag) sentinel(kind string) string {
	var b strings.Builder
	b.WriteString(sentinelPrefix)
	b.WriteString(kind)
	b.WriteString(" ext=")
	b.WriteString(strconv.Quote(t.Extension))
	b.WriteString(" target=")
	b.WriteString(strconv.Quote(t.Target))
	b.WriteString(" position=")
	b.WriteString(strconv.Quote(string(t.Position)))
	b.WriteString(sentinelSuffix)
	return b.String()
}

// Block is one live marker block found in a text.
type Block struct {
	Tag   Tag
	Start int // offset of the first byte of the begin sentinel
	End   int // offset just past the end sentinel, excluding its newline
	Body  string
}

// Apply inserts block into text under tag, replacing any block already
// carrying the same tag. Applying the same block twice yields the same text
// as applying it once.
func Apply(text, block string, tag Tag) string {
	text = Strip(text, tag)
	span := render(tag, block)

	if tag.Position == Prepend {
		at := frontMatterEnd(text)
		if at == len(text) && at > 0 && text[at-1] != '\n' {
			return text + "\n" + span
		}
		return text[:at] + span + "\n" + text[at:]
	}

	if text == "" {
		return span
	}
	return text + "\n" + span
}

// Strip removes every block carrying tag together with the newline its
// insertion introduced. Text without such a block is returned unchanged.
func Strip(text string, tag Tag) string {
	for {
		b, ok := find(text, tag)
		if !ok {
			return text
		}
		text = cut(text, b)
	}
}

// StripExtension removes every block owned by ext regardless of target and
// position. It returns the new text and the number of blocks removed.
func StripExtension(text, ext string) (string, int) {
	removed := 0
	for {
		var next *Block
		for _, b := range Blocks(text) {
			if b.Tag.Extension == ext {
				next = &b
				break
			}
		}
		if next == nil {
			return text, removed
		}
		text = cut(text, *next)
		removed++
	}
}

// MentionsExtension is a cheap pre-check for StripExtension: it reports
// whether text contains a sentinel attribute naming ext.
func MentionsExtension(text, ext string) bool {
	return strings.Contains(text, "ext="+strconv.Quote(ext))
}

// Blocks lists the live blocks in text in document order. A begin sentinel
// without a matching end sentinel is ignored.
func Blocks(text string) []Block {
	ls := splitLines(text)
	var out []Block
	for i := 0; i < len(ls); i++ {
		kind, tag, ok := parseSentinel(ls[i].text(text))
		if !ok || kind != kindBegin {
			continue
		}
		for j := i + 1; j < len(ls); j++ {
			k, t, ok := parseSentinel(ls[j].text(text))
			if !ok || k != kindEnd || t != tag {
				continue
			}
			body := ""
			if j > i+1 {
				body = text[ls[i+1].start:ls[j-1].end]
			}
			out = append(out, Block{Tag: tag, Start: ls[i].start, End: ls[j].end, Body: body})
			i = j
			break
		}
	}
	return out
}

func find(text string, tag Tag) (Block, bool) {
	for _, b := range Blocks(text) {
		if b.Tag == tag {
			return b, true
		}
	}
	return Block{}, false
}

// cut removes b and exactly one adjacent newline: the one following the
// block when present, otherwise the one preceding it.
func cut(text string, b Block) string {
	start, end := b.Start, b.End
	switch {
	case end < len(text) && text[end] == '\n':
		end++
	case start > 0 && text[start-1] == '\n':
		start--
	}
	return text[:start] + text[end:]
}

func render(tag Tag, block string) string {
	body := strings.TrimRight(block, "\r\n")
	var b strings.Builder
	b.WriteString(tag.Begin())
	b.WriteByte('\n')
	if body != "" {
		b.WriteString(body)
		b.WriteByte('\n')
	}
	b.WriteString(tag.End())
	return b.String()
}

// frontMatterEnd returns the offset just past a leading "---" delimited
// front-matter section, or 0 when the text has none.
func frontMatterEnd(text string) int {
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return 0
	}
	ls := splitLines(text)
	for i := 1; i < len(ls); i++ {
		if strings.TrimSuffix(ls[i].text(text), "\r") != "---" {
			continue
		}
		if ls[i].end < len(text) {
			return ls[i].end + 1
		}
		return ls[i].end
	}
	return 0
}

type lineSpan struct {
	start, end int // end excludes the newline
}

func (l lineSpan) text(s string) string { return s[l.start:l.end] }

func splitLines(text string) []lineSpan {
	var out []lineSpan
	start := 0
	for start < len(text) {
		idx := strings.IndexByte(text[start:], '\n')
		if idx < 0 {
			out = append(out, lineSpan{start: start, end: len(text)})
			break
		}
		out = append(out, lineSpan{start: start, end: start + idx})
		start += idx + 1
	}
	return out
}

// parseSentinel recognises a single sentinel line:
//
//	<!-- extkit:(begin|end) ext=Q target=Q position=Q -->
//
// where Q is a Go-quoted string.
func parseSentinel(line string) (kind string, tag Tag, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSuffix(line, "\r"), sentinelPrefix)
	if !found {
		return "", Tag{}, false
	}
	rest, found = strings.CutSuffix(rest, sentinelSuffix)
	if !found {
		return "", Tag{}, false
	}

	switch {
	case strings.HasPrefix(rest, kindBegin+" "):
		kind = kindBegin
	case strings.HasPrefix(rest, kindEnd+" "):
		kind = kindEnd
	default:
		return "", Tag{}, false
	}
	rest = rest[len(kind)+1:]

	var position string
	fields := []struct {
		key string
		dst *string
	}{
		{"ext", &tag.Extension},
		{"target", &tag.Target},
		{"position", &position},
	}
	for i, f := range fields {
		if i > 0 {
			if rest, found = strings.CutPrefix(rest, " "); !found {
				return "", Tag{}, false
			}
		}
		if rest, found = strings.CutPrefix(rest, f.key+"="); !found {
			return "", Tag{}, false
		}
		quoted, err := strconv.QuotedPrefix(rest)
		if err != nil {
			return "", Tag{}, false
		}
		value, err := strconv.Unquote(quoted)
		if err != nil {
			return "", Tag{}, false
		}
		*f.dst = value
		rest = rest[len(quoted):]
	}
	if rest != "" {
		return "", Tag{}, false
	}
	tag.Position = Position(position)
	return kind, tag, true
}
