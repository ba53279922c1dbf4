package pagetext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisible(t *testing.T) {
	html := `<html><head><title>t</title><style>.x{color:red}</style></head>
<body>
  <div>Example   Domain</div>
  <script>var hidden = "secret";</script>
  <p>More <b>text</b></p>
</body></html>`

	text, err := Visible(html)
	require.NoError(t, err)
	assert.Equal(t, "Example Domain More text", text)
	assert.NotContains(t, text, "secret")
}

func TestMatcher_Contains(t *testing.T) {
	m := NewMatcher()

	tests := []struct {
		name    string
		text    string
		pattern string
		want    bool
	}{
		{"exact", "welcome to example.com", "example.com", true},
		{"case", "Welcome To EXAMPLE.com", "example.COM", true},
		{"missing", "nothing here", "example", false},
		{"empty pattern", "anything", "", false},
		{"chinese", "我們的系統偵測到異常流量", "異常流量", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Contains(tt.text, tt.pattern))
		})
	}
}

func TestMatcher_ContainsAny(t *testing.T) {
	m := NewMatcher()

	got, ok := m.ContainsAny("Our systems have detected unusual traffic", []string{"robot", "unusual traffic"})
	assert.True(t, ok)
	assert.Equal(t, "unusual traffic", got)

	_, ok = m.ContainsAny("all good", []string{"robot"})
	assert.False(t, ok)
}
