package agi

import (
	"regexp"
	"strconv"
	"strings"
)

// Response is one parsed "<code> result=<value> [(data)] [trailing]" line.
type Response struct {
	Code     int
	Result   string
	Data     string
	Trailing string
}

var responsePattern = regexp.MustCompile(`^(\d{3}) result=(\S*)(?: \((.*?)\))?(?: (.*))?$`)

// errorPattern matches status lines that carry no result, such as
// "510 Invalid or unknown command" or "520 End of proper usage.".
var errorPattern = regexp.MustCompile(`^5\d\d `)

const (
	hangupToken     = "HANGUP"
	usagePrefix     = "520-"
	deadPrefix      = "511 "
	successCode     = 200
	deadChannelCode = 511
	resultFailed = -1
	appNotFound  = -2
)

func parseResponse(line string) (*Response, bool) {
	m := responsePattern.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	code, _ := strconv.Atoi(m[1])
	return &Response{
		Code:     code,
		Result:   m[2],
		Data:     m[3],
		Trailing: strings.TrimSpace(m[4]),
	}, true
}

// Int returns the numeric result.
func (r *Response) Int() (int, bool) {
	n, err := strconv.Atoi(r.Result)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Failed reports a -1 result.
func (r *Response) Failed() bool {
	n, ok := r.Int()
	return ok && n == resultFailed
}

// DecodeDigit maps a digit-producing result to the pressed key: results <= 0
// mean no key, positive results are the key's code point.
func DecodeDigit(result string) string {
	n, err := strconv.Atoi(strings.TrimSpace(result))
	if err != nil || n <= 0 {
		return ""
	}
	return string(rune(n))
}

// quote renders one command argument.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", " ")
	return `"` + s + `"`
}
