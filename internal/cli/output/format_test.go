package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"structured", FormatStructured, false},
		{"json", FormatStructured, false},
		{"", FormatStructured, false},
		{"tabular", FormatTabular, false},
		{"table", FormatTabular, false},
		{"plain", FormatPlain, false},
		{"PLAIN", FormatPlain, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got)
	}
}

type fakeListing struct{}

func (fakeListing) Headers() []string { return []string{"Group", "Name", "Status"} }
func (fakeListing) Rows() [][]string {
	return [][]string{{"checkpoints", "m1", "downloading"}}
}
func (fakeListing) PlainLines() []string {
	return []string{"checkpoints/m1 downloading"}
}

func TestPrinterTabular(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTabular)
	require.NoError(t, p.Print(fakeListing{}))

	out := buf.String()
	assert.Contains(t, out, "GROUP")
	assert.Contains(t, out, "m1")
}

func TestPrinterPlain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatPlain)
	require.NoError(t, p.Print(fakeListing{}))
	assert.Equal(t, "checkpoints/m1 downloading\n", buf.String())
}

func TestPrinterStructured(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatStructured)
	require.NoError(t, p.Print(map[string]int{"pending": 3}))

	var decoded map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 3, decoded["pending"])
}

func TestPrinterYAML(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatYAML)
	require.NoError(t, p.Print(map[string]string{"status": "running"}))
	assert.True(t, strings.Contains(buf.String(), "status: running"))
}
