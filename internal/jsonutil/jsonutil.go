// Package jsonutil formats structs for printing on terminal.
package jsonutil

import (
	"bytes"
	"os"
	"sort"

	"github.com/fatih/structs"
	"github.com/hokaccha/go-prettyjson"
	"github.com/mattn/go-isatty"
)

var formatter *prettyjson.Formatter

func init() {
	formatter = prettyjson.NewFormatter()
	formatter.Indent = 0
	formatter.Newline = ""
	formatter.DisabledColor = !isatty.IsTerminal(os.Stdout.Fd())
}

// SetColor enables or disables colored output.
func SetColor(enabled bool) {
	formatter.DisabledColor = !enabled
}

// MarshalCompactPretty formats the fields of struct v as "Name: value" lines sorted by name.
// Values are formatted in compact JSON form, with color information if enabled.
func MarshalCompactPretty(v any) ([]byte, error) {
	var buf bytes.Buffer
	m := structs.Map(v)
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := formatter.Marshal(m[name])
		if err != nil {
			return nil, err
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.Write(b)
		buf.WriteRune('\n')
	}
	return buf.Bytes(), nil
}
