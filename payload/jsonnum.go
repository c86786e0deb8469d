package payload

import (
	"strconv"
	"strings"
)

// JSONNumberToGo converts a decoded json.Number's literal text into either
// an int64 or a float64, per F2's "distinguish integer vs. floating at
// decode" rule: a literal with no '.' or exponent is an integer.
func JSONNumberToGo(lit string) (any, error) {
	if !strings.ContainsAny(lit, ".eE") {
		if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return n, nil
		}
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return nil, err
	}
	return f, nil
}
