package text

import "unicode/utf8"

// Truncate limits the string length and appends ellipsis when exceeding max.
// Truncation is rune-aware so multi-byte text (模型输出常含中文) is never split
// in the middle of a character.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}
