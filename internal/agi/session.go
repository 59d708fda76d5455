package agi

import (
	"strings"
)

const varPrefix = "agi_"

// Session is the immutable call metadata sent by the switch before the
// first command.
type Session struct {
	ID           string
	Channel      string
	UniqueID     string
	CallerID     string
	CallerName   string
	DialedNumber string
	Context      string
	Extension    string
	Request      string

	keys []string
	vars map[string]string
}

// Var is a single bootstrap variable.
type Var struct {
	Key   string
	Value string
}

func newSession(id string) *Session {
	return &Session{ID: id, vars: make(map[string]string)}
}

// set stores a variable. A repeated key overwrites the value in place.
func (s *Session) set(key, value string) {
	if _, exists := s.vars[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.vars[key] = value
}

// addLine parses one "agi_key: value" line.
func (s *Session) addLine(line string) {
	if !strings.HasPrefix(line, varPrefix) {
		return
	}
	idx := strings.Index(line, ":")
	if idx < 0 {
		return
	}
	s.set(strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]))
}

func (s *Session) finish() {
	s.Channel = s.vars["agi_channel"]
	s.UniqueID = s.vars["agi_uniqueid"]
	s.CallerID = s.vars["agi_callerid"]
	s.CallerName = s.vars["agi_calleridname"]
	s.Context = s.vars["agi_context"]
	s.Extension = s.vars["agi_extension"]
	s.Request = s.vars["agi_request"]

	s.DialedNumber = s.vars["agi_dnid"]
	if s.DialedNumber == "" || s.DialedNumber == "unknown" {
		s.DialedNumber = s.Extension
	}
}

// Var returns a bootstrap variable by its full key, e.g. "agi_callerid".
func (s *Session) Var(key string) string {
	return s.vars[key]
}

// Vars returns the bootstrap variables in arrival order.
func (s *Session) Vars() []Var {
	out := make([]Var, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, Var{Key: k, Value: s.vars[k]})
	}
	return out
}

// NewTestSession builds a session from key/value pairs without a handshake.
func NewTestSession(pairs ...string) *Session {
	s := newSession("test")
	for i := 0; i+1 < len(pairs); i += 2 {
		s.set(pairs[i], pairs[i+1])
	}
	s.finish()
	return s
}
