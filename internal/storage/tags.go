package storage

import "strings"

const (
	tagSeparator = ','
	tagEscape    = '\\'
)

// EncodeTags joins tags with commas, escaping commas and backslashes inside a tag.
// Tags without either character encode to a plain comma join.
func EncodeTags(tags []string) string {
	var b strings.Builder
	for i, tag := range tags {
		if i > 0 {
			b.WriteByte(tagSeparator)
		}
		for _, r := range tag {
			if r == tagSeparator || r == tagEscape {
				b.WriteByte(tagEscape)
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DecodeTags reverses EncodeTags. The empty string decodes to an empty slice.
// An encoded list holding a single empty tag is indistinguishable from no tags.
func DecodeTags(encoded string) []string {
	tags := []string{}
	if encoded == "" {
		return tags
	}
	var cur strings.Builder
	escaped := false
	for _, r := range encoded {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == tagEscape:
			escaped = true
		case r == tagSeparator:
			tags = append(tags, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		cur.WriteRune(tagEscape)
	}
	return append(tags, cur.String())
}
