package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsXPath(t *testing.T) {
	assert.True(t, IsXPath(`//button[contains(., "Log In")]`))
	assert.True(t, IsXPath(`(//button)[1]`))
	assert.False(t, IsXPath(`#otp-0`))
	assert.False(t, IsXPath(`input[name="robiNumber"]`))
}

func TestFlattenHTML(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "comment nodes dropped",
			html: `<p class="mui-v247a6">৳<!-- -->1,234.56<!-- --></p>`,
			want: "৳1,234.56",
		},
		{
			name: "nested spans",
			html: `<div><span>৳</span> <span>0.27</span></div>`,
			want: "৳ 0.27",
		},
		{
			name: "whitespace collapsed",
			html: "<p>\n  Balance\n\t  ৳ 50 </p>",
			want: "Balance ৳ 50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FlattenHTML(tt.html)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScreenshotName(t *testing.T) {
	assert.Equal(t, "d1_awaiting_otp.png", ScreenshotName("d1", "awaiting_otp"))
}

func TestKeyStrokes(t *testing.T) {
	assert.Equal(t, []string{"4", "8", "2", "9", "1", "3"}, keyStrokes("482913"))
	assert.Equal(t, []string{"৳", "5"}, keyStrokes("৳5"))
	assert.Empty(t, keyStrokes(""))
}
