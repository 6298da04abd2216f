package web

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// indexPage renders the upload form. columns lists the fixed-mode header.
func indexPage(columns []string, maxSizeMB int64, defaultMode string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Health Export to CSV</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 40rem; margin: 3rem auto; color: #222; }
code { background: #f3f3f3; padding: 0 .25rem; }
fieldset { border: 1px solid #ddd; margin: 1rem 0; }
</style>
</head>
<body>
<h1>Health Export to CSV</h1>
<p>Upload the <code>export.zip</code> produced by the Health app. Every <code>Record</code> in
<code>apple_health_export/export.xml</code> becomes one CSV row.</p>
<form method="post" action="/api/convert" enctype="multipart/form-data">
<p><input type="file" name="file" accept=".zip,application/zip" required></p>
<fieldset>
<legend>Columns</legend>
`)
		for _, mode := range []string{"fixed", "schemaless"} {
			checked := ""
			if mode == defaultMode {
				checked = " checked"
			}
			fmt.Fprintf(&b, `<label><input type="radio" name="mode" value="%s"%s> %s</label>
`, templ.EscapeString(mode), checked, templ.EscapeString(modeLabel(mode)))
		}
		b.WriteString(`</fieldset>
<p><button type="submit">Convert</button></p>
</form>
`)
		fmt.Fprintf(&b, "<p>Maximum upload size: %d MB.</p>\n", maxSizeMB)
		b.WriteString("<p>Fixed columns:</p>\n<ol>\n")
		for _, col := range columns {
			fmt.Fprintf(&b, "<li><code>%s</code></li>\n", templ.EscapeString(col))
		}
		b.WriteString("</ol>\n</body>\n</html>\n")

		_, err := io.WriteString(w, b.String())
		return err
	})
}

func modeLabel(mode string) string {
	if mode == "schemaless" {
		return "Schema-less (header from the first record's attributes)"
	}
	return "Fixed (nine standard columns)"
}
