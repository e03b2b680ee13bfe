package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
)

var verificationHTML = template.Must(template.New("verification").Parse(
	`<p>Your FlicAPP verification code is <strong>{{.Code}}</strong>.</p>
<p>It expires in {{.Minutes}} minutes. If you did not ask for it, ignore this email.</p>`))

var resetHTML = template.Must(template.New("reset").Parse(
	`<p>We received a request to reset your FlicAPP password.</p>
<p>Use the code <strong>{{.Code}}</strong> or <a href="{{.Link}}">follow this link</a>.</p>
<p>Both expire in {{.Minutes}} minutes.</p>`))

// VerificationEmail renders the email-verification message.
func VerificationEmail(to, code string, minutes int) (Email, error) {
	var html bytes.Buffer
	data := struct {
		Code    string
		Minutes int
	}{code, minutes}
	if err := verificationHTML.Execute(&html, data); err != nil {
		return Email{}, err
	}
	return Email{
		To:       []string{to},
		Subject:  "Your FlicAPP verification code",
		Body:     fmt.Sprintf("Your FlicAPP verification code is %s. It expires in %d minutes.", code, minutes),
		HTMLBody: html.String(),
	}, nil
}

// PasswordResetEmail renders the reset message. The token is appended to
// resetURL as the "token" query parameter.
func PasswordResetEmail(to, code, token, resetURL string, minutes int) (Email, error) {
	link := resetURL
	if u, err := url.Parse(resetURL); err == nil {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
		link = u.String()
	}

	var html bytes.Buffer
	data := struct {
		Code    string
		Link    string
		Minutes int
	}{code, link, minutes}
	if err := resetHTML.Execute(&html, data); err != nil {
		return Email{}, err
	}
	return Email{
		To:       []string{to},
		Subject:  "Reset your FlicAPP password",
		Body:     fmt.Sprintf("Use the code %s or open %s to reset your password. Both expire in %d minutes.", code, link, minutes),
		HTMLBody: html.String(),
	}, nil
}
