package captcha

import (
	"fmt"
	"regexp"
	"strconv"
)

// the login page renders challenges like "5 + 9 = " inside the captcha
// label, occasionally with extra prose around the expression
var expression = regexp.MustCompile(`(\d+)\s*([+\-*/])\s*(\d+)\s*=?`)

var ErrUnparsable = fmt.Errorf("no arithmetic expression found in challenge")

// Solve extracts a two-operand arithmetic expression from raw challenge
// text and returns its integer result.
func Solve(text string) (int, error) {
	groups := expression.FindStringSubmatch(text)
	if len(groups) < 4 {
		return 0, fmt.Errorf("%w: %q", ErrUnparsable, text)
	}

	a, err := strconv.Atoi(groups[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparsable, text)
	}
	b, err := strconv.Atoi(groups[3])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparsable, text)
	}

	switch groups[2] {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, fmt.Errorf("%w: division by zero in %q", ErrUnparsable, text)
		}
		return a / b, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnparsable, text)
}

// Find scans arbitrary page text for the first thing that looks like a
// challenge expression. Returns "" when the page has none.
func Find(pageText string) string {
	return expression.FindString(pageText)
}
