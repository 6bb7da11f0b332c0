package export

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// HTML renders the same digest as Markdown, converted to standalone
// HTML. Grounded on internal/web/server.go "markdown"
// template func, which ran ticket bodies through goldmark.Convert for
// the dashboard; here there is no template engine to hang it off of,
// so the digest is converted directly and wrapped in a minimal shell.
func HTML(b Backup) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(b)), &buf); err != nil {
		return "", err
	}
	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Boardroom Journal Export</title></head><body>\n")
	out.Write(buf.Bytes())
	out.WriteString("\n</body></html>\n")
	return out.String(), nil
}
