package format

import (
	"regexp"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ParseResult contains plain text and message entities
type ParseResult struct {
	Text     string
	Entities []tgbotapi.MessageEntity
}

// UTF16Len calculates the UTF-16 length of a string
// This is required because Telegram uses UTF-16 code units for entity offsets/lengths
func UTF16Len(s string) int {
	length := 0
	for _, b := range []byte(s) {
		if (b & 0xc0) != 0x80 {
			if b >= 0xf0 {
				length += 2 // Non-BMP characters (surrogate pairs)
			} else {
				length += 1
			}
		}
	}
	return length
}

var (
	headerRe = regexp.MustCompile(`(?m)^#{1,6}\s+(.+?)$`)
	boldRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	codeRe   = regexp.MustCompile("`([^`]+?)`")
	italicRe = regexp.MustCompile(`_([^_\n]+?)_`)
)

// ParseMarkdown converts the small Markdown subset used in bot messages into
// Telegram message entities:
// - **bold** -> bold
// - _italic_ -> italic
// - `code` -> code
// - # Header -> bold
//
// Medication names often contain "*", so single-star italics are left alone.
func ParseMarkdown(text string) ParseResult {
	result := headerRe.ReplaceAllString(text, "**$1**")

	var entities []tgbotapi.MessageEntity
	strip := func(re *regexp.Regexp, kind string) {
		for {
			loc := re.FindStringSubmatchIndex(result)
			if loc == nil {
				return
			}
			fullStart, fullEnd := loc[0], loc[1]
			inner := result[loc[2]:loc[3]]

			offset := UTF16Len(result[:fullStart])
			removedBefore := UTF16Len(result[fullStart:loc[2]])
			removedAfter := UTF16Len(result[loc[3]:fullEnd])
			for i := range entities {
				shiftEntity(&entities[i], offset, removedBefore, UTF16Len(inner), removedAfter)
			}

			entities = append(entities, tgbotapi.MessageEntity{
				Type:   kind,
				Offset: offset,
				Length: UTF16Len(inner),
			})
			result = result[:fullStart] + inner + result[fullEnd:]
		}
	}

	strip(boldRe, "bold")
	strip(codeRe, "code")
	strip(italicRe, "italic")

	// Telegram requires entities ordered by offset
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Offset < entities[j].Offset
	})

	return ParseResult{
		Text:     strings.TrimRight(result, " \n"),
		Entities: entities,
	}
}

// shiftEntity moves an earlier entity after markers at [at, at+before) and
// [at+before+inner, ...+after) are removed.
func shiftEntity(e *tgbotapi.MessageEntity, at, before, inner, after int) {
	start, end := e.Offset, e.Offset+e.Length
	shift := func(pos int) int {
		switch {
		case pos <= at:
			return pos
		case pos <= at+before+inner:
			return pos - before
		default:
			return pos - before - after
		}
	}
	e.Offset = shift(start)
	e.Length = shift(end) - e.Offset
}

// Escape removes the Markdown markers ParseMarkdown understands from
// user-provided text.
func Escape(s string) string {
	return strings.NewReplacer("**", "", "`", "'", "_", " ").Replace(s)
}
