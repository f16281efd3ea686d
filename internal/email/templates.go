package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

type syncAbortedEmailData struct {
	Source     string
	ErrorKind  string
	Message    string
	HTTPStatus int
	OccurredAt string
}

var emailTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

func renderEmailTemplate(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render email template %s: %w", name, err)
	}
	return buf.String(), nil
}
