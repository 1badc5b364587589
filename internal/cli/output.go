package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
)

// field строка текстового вывода.
type field struct {
	name  string
	value any
}

// writeOutput печатает v как JSON или набор полей в зависимости от формата.
func writeOutput(w io.Writer, format string, v any, fields []field) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, f := range fields {
		if _, err := fmt.Fprintf(tw, "%s:\t%v\n", f.name, f.value); err != nil {
			return err
		}
	}
	return tw.Flush()
}
