package app

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"application_stats_bot/internal/domain/chat"
	"application_stats_bot/internal/domain/store"
)

const (
	documentColor      = 0x4285F4
	maxEmbedFields     = 25
	maxFieldValue      = 1024
	truncatedFieldSize = 1000
	previewFields      = 3
	previewValueSize   = 50
	inlineValueSize    = 100
)

func documentEmbed(collection string, doc *store.Document) *chat.Embed {
	e := &chat.Embed{
		Title:       "Document: " + doc.ID,
		Description: "Collection: " + collection,
		Color:       documentColor,
	}
	keys := sortedKeys(doc.Data)
	for i, k := range keys {
		if i == maxEmbedFields {
			e.Footer = fmt.Sprintf("Showing %d/%d fields.", maxEmbedFields, len(keys))
			break
		}
		v := valueString(doc.Data[k], true)
		if utf8.RuneCountInString(v) > maxFieldValue {
			v = truncateRunes(v, truncatedFieldSize) + "... (truncated)"
		}
		if v == "" {
			v = "(empty)"
		}
		e.Fields = append(e.Fields, chat.EmbedField{Name: k, Value: v, Inline: len(v) < inlineValueSize})
	}
	return e
}

func documentPreview(doc *store.Document) string {
	keys := sortedKeys(doc.Data)
	if len(keys) > previewFields {
		keys = keys[:previewFields]
	}
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		v := valueString(doc.Data[k], false)
		if utf8.RuneCountInString(v) >= previewValueSize {
			v = truncateRunes(v, previewValueSize) + "..."
		}
		lines = append(lines, fmt.Sprintf("%s: %s", k, v))
	}
	if len(lines) == 0 {
		return "(Empty document)"
	}
	return strings.Join(lines, "\n")
}

// documentsJSON renders documents with their ids for an attachment.
func documentsJSON(docs ...*store.Document) ([]byte, error) {
	out := make([]map[string]interface{}, 0, len(docs))
	for _, d := range docs {
		m := make(map[string]interface{}, len(d.Data)+1)
		for k, v := range d.Data {
			m[k] = v
		}
		m["id"] = d.ID
		out = append(out, m)
	}
	if len(docs) == 1 {
		return json.MarshalIndent(out[0], "", "  ")
	}
	return json.MarshalIndent(out, "", "  ")
}

func valueString(v interface{}, indent bool) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	var raw []byte
	var err error
	if indent {
		raw, err = json.MarshalIndent(v, "", "  ")
	} else {
		raw, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == "id" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// truncateRunes cuts s to at most n runes without splitting a multi-byte character.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
