package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceMatcher(t *testing.T) {
	m := NewDeviceMatcher([]string{"*iPhone*", "*Android*"})

	tests := []struct {
		name      string
		userAgent string
		want      bool
	}{
		{"iphone safari", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15", true},
		{"android chrome", "Mozilla/5.0 (Linux; Android 14; Pixel 8) Chrome/120.0", true},
		{"desktop firefox", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", false},
		{"curl", "curl/8.4.0", false},
		{"empty", "", false},
		{"case sensitive", "mozilla iphone", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Matches(tt.userAgent))
		})
	}
}

func TestDeviceMatcherAnchored(t *testing.T) {
	m := NewDeviceMatcher([]string{"iPhone"})

	assert.True(t, m.Matches("iPhone"))
	assert.False(t, m.Matches("Mozilla iPhone Safari"))
}

func TestDeviceMatcherEmptyList(t *testing.T) {
	m := NewDeviceMatcher(nil)

	assert.False(t, m.Matches("anything"))
}
