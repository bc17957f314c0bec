package sheet

import (
	"fmt"
	"strings"
)

// ColumnLetter converts a 1-based column index to its A1 letters:
// 1 is A, 26 is Z, 27 is AA. Indexes below 1 yield "".
func ColumnLetter(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// ColumnIndex is the inverse of ColumnLetter. It is case-insensitive.
func ColumnIndex(letters string) (int, error) {
	letters = strings.ToUpper(strings.TrimSpace(letters))
	if letters == "" {
		return 0, fmt.Errorf("sheet: empty column letters")
	}
	n := 0
	for _, r := range letters {
		if r < 'A' || r > 'Z' {
			return 0, fmt.Errorf("sheet: invalid column letters %q", letters)
		}
		n = n*26 + int(r-'A'+1)
	}
	return n, nil
}
