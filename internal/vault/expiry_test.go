package vault

import (
	"strconv"
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	stamp := func(d time.Duration) string {
		return strconv.FormatInt(time.Now().Add(d).Unix(), 10)
	}
	cases := []struct {
		name string
		data map[string]string
		want bool
	}{
		{"valid for an hour", map[string]string{"expires_at": stamp(time.Hour)}, false},
		{"already past", map[string]string{"expires_at": stamp(-time.Minute)}, true},
		{"inside the 60s safety margin", map[string]string{"expires_at": stamp(30 * time.Second)}, true},
		{"missing field", map[string]string{}, true},
		{"garbage field", map[string]string{"expires_at": "soon"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isExpired(c.data); got != c.want {
				t.Errorf("isExpired(%v) = %v, want %v", c.data, got, c.want)
			}
		})
	}
}
