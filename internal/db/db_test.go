package db

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
)

func TestDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 3306, Username: "pbx", Password: "secret", Database: "callcontrol"}
	want := "pbx:secret@tcp(db:3306)/callcontrol?parseTime=true&multiStatements=true&interpolateParams=true"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q", got)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{stderrors.New("Error 1213: Deadlock found when trying to get lock"), true},
		{stderrors.New("dial tcp: connection refused"), true},
		{stderrors.New("Error 1062: Duplicate entry"), false},
	}
	for _, tt := range tests {
		if got := isRetryableError(tt.err); got != tt.want {
			t.Errorf("isRetryableError(%v) = %v", tt.err, got)
		}
	}
}

func TestUpdateCallLogRejectsUnknownField(t *testing.T) {
	s := NewStore(nil, nil)
	err := s.UpdateCallLog(context.Background(), 1, map[string]interface{}{"caller_name": "x"})
	if !errors.Is(err, errors.ErrInternal) {
		t.Errorf("err = %v", err)
	}
	if err := s.UpdateCallLog(context.Background(), 1, nil); err != nil {
		t.Errorf("empty update err = %v", err)
	}
}

func TestNilCacheIsInert(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	var v string
	if c.Get(ctx, "k", &v) {
		t.Error("nil cache hit")
	}
	c.Set(ctx, "k", "v", 0)
	c.Delete(ctx, "k")
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping() = %v", err)
	}
	if err := c.Publish(ctx, "ch", []byte("x")); !errors.Is(err, errors.ErrRedis) {
		t.Errorf("Publish() = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestCacheKeyPrefix(t *testing.T) {
	if got := (&Cache{prefix: "cc"}).key("ivr_menu:1"); got != "cc:ivr_menu:1" {
		t.Errorf("key = %q", got)
	}
	if got := (&Cache{}).key("trunk:2"); got != "trunk:2" {
		t.Errorf("key = %q", got)
	}
}
