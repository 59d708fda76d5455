package agi

import "testing"

func TestParseResponse(t *testing.T) {
	tests := []struct {
		line     string
		code     int
		result   string
		data     string
		trailing string
	}{
		{"200 result=1", 200, "1", "", ""},
		{"200 result=-1", 200, "-1", "", ""},
		{"200 result=1 (SIP/100-0001)", 200, "1", "SIP/100-0001", ""},
		{"200 result=0 endpos=16000", 200, "0", "", "endpos=16000"},
		{"200 result= (timeout)", 200, "", "timeout", ""},
		{"200 result=49 (dtmf) endpos=800", 200, "49", "dtmf", "endpos=800"},
	}

	for _, tt := range tests {
		resp, ok := parseResponse(tt.line)
		if !ok {
			t.Errorf("parseResponse(%q) did not match", tt.line)
			continue
		}
		if resp.Code != tt.code || resp.Result != tt.result || resp.Data != tt.data || resp.Trailing != tt.trailing {
			t.Errorf("parseResponse(%q) = %+v", tt.line, resp)
		}
	}
}

func TestParseResponseRejectsOtherLines(t *testing.T) {
	for _, line := range []string{"HANGUP", "510 Invalid or unknown command", "agi_channel: SIP/1", ""} {
		if _, ok := parseResponse(line); ok {
			t.Errorf("parseResponse(%q) matched", line)
		}
	}
}

func TestDecodeDigit(t *testing.T) {
	tests := map[string]string{
		"-1":  "",
		"0":   "",
		"65":  "A",
		"49":  "1",
		"35":  "#",
		"42":  "*",
		"abc": "",
		"":    "",
	}
	for in, want := range tests {
		if got := DecodeDigit(in); got != want {
			t.Errorf("DecodeDigit(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResponseFailed(t *testing.T) {
	if !(&Response{Result: "-1"}).Failed() {
		t.Error("result -1 should be failed")
	}
	if (&Response{Result: "0"}).Failed() {
		t.Error("result 0 should not be failed")
	}
}

func TestQuote(t *testing.T) {
	if got := quote(`say "hi"`); got != `"say \"hi\""` {
		t.Errorf("quote = %s", got)
	}
	if got := quote(""); got != `""` {
		t.Errorf("quote(empty) = %s", got)
	}
}
