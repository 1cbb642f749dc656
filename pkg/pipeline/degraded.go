package pipeline

import (
	"errors"
	"strings"
	"text/template"

	"github.com/zen-systems/sentinel/pkg/intent"
	"github.com/zen-systems/sentinel/pkg/router"
)

var degradedTemplates = template.Must(template.New("degraded").Parse(`
{{- define "reason" -}}
{{- if .NoEligible -}}
no configured backend can serve a {{ .Intent }} request
{{- else -}}
every backend, including the offline chain, failed
{{- end -}}
{{- end -}}

{{- define "tool_call" -}}
Model backends are unavailable ({{ template "reason" . }}). Tool calls need a trusted backend to authorize them; run the tool directly with "sentinel tools invoke" instead.
{{- end -}}

{{- define "system_analysis" -}}
Model backends are unavailable ({{ template "reason" . }}). Basic diagnostics still work: try "sentinel tools invoke disk_info" or "sentinel tools invoke memory_info".
{{- end -}}

{{- define "default" -}}
Model backends are unavailable ({{ template "reason" . }}). Your request was recorded; please try again shortly.
{{- end -}}
`))

type degradedData struct {
	Intent     intent.Category
	NoEligible bool
}

// degradedAnswer renders the rule-based reply used when no backend answers.
func degradedAnswer(res intent.Result, cause error) string {
	data := degradedData{Intent: res.Category, NoEligible: errors.Is(cause, router.ErrNoEligibleBackend)}

	name := "default"
	if t := degradedTemplates.Lookup(string(res.Category)); t != nil {
		name = string(res.Category)
	}
	var b strings.Builder
	if err := degradedTemplates.ExecuteTemplate(&b, name, data); err != nil {
		return "Model backends are unavailable. Please try again shortly."
	}
	return b.String()
}
