package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name    string  `json:"name" yaml:"name"`
	Percent float64 `json:"percent" yaml:"percent"`
	Missing *string `json:"missing" yaml:"missing"`
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"json", FormatJSON, false},
		{" YAML ", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatJSON)
	require.NoError(t, p.Print(sample{Name: "alice", Percent: 83.47}))
	assert.Equal(t, "{\"name\":\"alice\",\"percent\":83.47,\"missing\":null}\n", buf.String())

	buf.Reset()
	require.NoError(t, p.Indent(true).Print(sample{Name: "bob"}))
	assert.Contains(t, buf.String(), "\n  \"name\": \"bob\"")
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatYAML).Print(sample{Name: "alice", Percent: 50}))
	assert.Equal(t, "name: alice\npercent: 50\nmissing: null\n", buf.String())
}

func TestIsTerminalOnBuffer(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))
}
