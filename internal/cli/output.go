package cli

import (
	"archivecore/pkg/domain"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

func newFormatter(opts *RootOptions, w io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: w}
}

// JSON writes v as indented JSON.
func (f *OutputFormatter) JSON(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Records prints one line per record in text mode or a JSON array.
func (f *OutputFormatter) Records(recs []domain.Record) error {
	if f.Format == "json" {
		if recs == nil {
			recs = []domain.Record{}
		}
		return f.JSON(recs)
	}
	for _, rec := range recs {
		if _, err := fmt.Fprintln(f.Writer, recordLine(rec)); err != nil {
			return err
		}
	}
	return nil
}

// Record prints a single record with its attributes.
func (f *OutputFormatter) Record(rec domain.Record) error {
	if f.Format == "json" {
		return f.JSON(rec)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\ntype: %s\nlock_token: %d\n", rec.ID, rec.Type, rec.LockToken)
	if len(rec.MemberIDs) > 0 {
		ids := make([]string, len(rec.MemberIDs))
		for i, id := range rec.MemberIDs {
			ids[i] = id.String()
		}
		fmt.Fprintf(&b, "member_ids: %s\n", strings.Join(ids, ", "))
	}
	for _, name := range rec.AttributeNames() {
		vals := rec.Get(name)
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = v.String()
			if v.IsRef() {
				parts[i] = "@" + parts[i]
			}
		}
		fmt.Fprintf(&b, "%s: %s\n", name, strings.Join(parts, ", "))
	}
	_, err := io.WriteString(f.Writer, b.String())
	return err
}

// Value prints a scalar result under key.
func (f *OutputFormatter) Value(key string, v any) error {
	if f.Format == "json" {
		return f.JSON(map[string]any{key: v})
	}
	_, err := fmt.Fprintln(f.Writer, v)
	return err
}

func recordLine(rec domain.Record) string {
	return strings.TrimRight(fmt.Sprintf("%s\t%s\t%s", rec.ID, rec.Type, rec.First(domain.AttrTitle)), "\t")
}
