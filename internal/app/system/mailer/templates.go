// internal/app/system/mailer/templates.go
package mailer

import (
	"bytes"
	"fmt"
	"html/template"
)

// LinkEmailData holds data for the single-link account emails.
type LinkEmailData struct {
	SiteName  string
	Link      string
	ExpiresIn string // e.g., "24 hours"
}

// BuildVerificationEmail creates the verify-your-address email.
func BuildVerificationEmail(to string, data LinkEmailData) Email {
	return buildLinkEmail(to, data, linkCopy{
		Subject: fmt.Sprintf("Confirm your %s email address", data.SiteName),
		Intro:   "Confirm this email address to finish setting up your account.",
		Button:  "Confirm email",
		Ignore:  "If you did not create an account, you can safely ignore this email.",
	})
}

// BuildPasswordResetEmail creates the reset-your-password email.
func BuildPasswordResetEmail(to string, data LinkEmailData) Email {
	return buildLinkEmail(to, data, linkCopy{
		Subject: fmt.Sprintf("Reset your %s password", data.SiteName),
		Intro:   "Someone asked to reset the password for this account.",
		Button:  "Choose a new password",
		Ignore:  "If you did not ask for this, you can safely ignore this email. Your password is unchanged.",
	})
}

type linkCopy struct {
	Subject string
	Intro   string
	Button  string
	Ignore  string
}

type linkView struct {
	LinkEmailData
	linkCopy
}

func buildLinkEmail(to string, data LinkEmailData, c linkCopy) Email {
	v := linkView{LinkEmailData: data, linkCopy: c}
	return Email{
		To:       to,
		Subject:  c.Subject,
		TextBody: buildLinkText(v),
		HTMLBody: buildLinkHTML(v),
	}
}

func buildLinkText(v linkView) string {
	var buf bytes.Buffer
	buf.WriteString(v.Intro + "\n\n")
	buf.WriteString(v.Link + "\n\n")
	buf.WriteString(fmt.Sprintf("This link expires in %s and works once.\n\n", v.ExpiresIn))
	buf.WriteString(v.Ignore + "\n")
	return buf.String()
}

var linkHTML = template.Must(template.New("link").Parse(linkHTMLTemplate))

func buildLinkHTML(v linkView) string {
	var buf bytes.Buffer
	_ = linkHTML.Execute(&buf, v)
	return buf.String()
}

const linkHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.Subject}}</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; background-color: #f3f4f6;">
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="background-color: #f3f4f6;">
    <tr>
      <td align="center" style="padding: 40px 20px;">
        <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="max-width: 480px; background-color: #ffffff; border-radius: 8px;">
          <tr>
            <td style="padding: 32px 32px 24px; text-align: center; border-bottom: 1px solid #e5e7eb;">
              <h1 style="margin: 0; font-size: 22px; font-weight: 600; color: #166534;">{{.SiteName}}</h1>
            </td>
          </tr>
          <tr>
            <td style="padding: 32px;">
              <p style="margin: 0 0 24px; font-size: 16px; color: #374151; line-height: 1.5;">{{.Intro}}</p>
              <table role="presentation" width="100%" cellspacing="0" cellpadding="0">
                <tr>
                  <td align="center">
                    <a href="{{.Link}}" style="display: inline-block; padding: 14px 32px; background-color: #166534; color: #ffffff; text-decoration: none; font-size: 16px; border-radius: 6px;">{{.Button}}</a>
                  </td>
                </tr>
              </table>
              <p style="margin: 24px 0 0; font-size: 13px; color: #9ca3af; text-align: center;">
                This link expires in {{.ExpiresIn}} and works once.
              </p>
            </td>
          </tr>
          <tr>
            <td style="padding: 24px 32px; background-color: #f9fafb; border-top: 1px solid #e5e7eb;">
              <p style="margin: 0; font-size: 12px; color: #9ca3af; text-align: center;">{{.Ignore}}</p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`
