package mail

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/ManuelReschke/PropServe/app/models"
)

// Welcome is the data of a welcome message.
type Welcome struct {
	Name     string
	Email    string
	Kind     string
	PublicID string
}

var welcomeTemplates = map[string]*template.Template{
	models.KIND_AGENT: template.Must(template.New("agent").Parse(layout + `
<p>Hello {{.Name}},</p>
<p>your agent registration is complete. Your agent id is <strong>{{.PublicID}}</strong>.</p>
<p>You can now list properties and receive enquiries from buyers and tenants.</p>` + footer)),
	models.KIND_SERVICE_PROVIDER: template.Must(template.New("service_provider").Parse(layout + `
<p>Hello {{.Name}},</p>
<p>your service provider registration is complete. Your provider id is <strong>{{.PublicID}}</strong>.</p>
<p>Customers can now find your services and send you enquiries.</p>` + footer)),
}

const layout = `<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;color:#222">
<h2>Welcome to PropServe</h2>`

const footer = `
<p>Your registration fee has been received. Keep this email for your records.</p>
<p style="color:#888;font-size:12px">Sent to {{.Email}}</p>
</body></html>`

// WelcomeSubject returns the subject line for kind.
func WelcomeSubject(kind string) string {
	if kind == models.KIND_SERVICE_PROVIDER {
		return "Welcome to PropServe - service provider registration complete"
	}
	return "Welcome to PropServe - agent registration complete"
}

// RenderWelcome renders the HTML body for w.Kind.
func RenderWelcome(w Welcome) (string, error) {
	tpl, ok := welcomeTemplates[w.Kind]
	if !ok {
		return "", fmt.Errorf("no welcome template for kind %q", w.Kind)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, w); err != nil {
		return "", fmt.Errorf("render welcome email: %w", err)
	}
	return buf.String(), nil
}
