package restyutil

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
)

// form fields whose values never belong in a transcript on disk
var redactedFields = []string{"password", "captcha", "_token"}

func formatHeaders(headers http.Header) string {
	var out strings.Builder
	for k, vals := range headers {
		for _, v := range vals {
			if strings.EqualFold(k, "cookie") || strings.EqualFold(k, "set-cookie") {
				v = "<redacted>"
			}
			fmt.Fprintf(&out, "%s: %s\n", k, v)
		}
	}
	return strings.TrimRight(out.String(), "\n")
}

func formatRequestBody(req *http.Request) string {
	if req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("failed to get request body: %s", err)
	}
	contents, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("failed to read request body: %s", err)
	}
	return redactForm(string(contents))
}

func redactForm(body string) string {
	form, err := url.ParseQuery(body)
	if err != nil {
		return body
	}
	for _, field := range redactedFields {
		if form.Has(field) {
			form.Set(field, "<redacted>")
		}
	}
	return form.Encode()
}

const exchangeTemplate = `---- REQUEST ----

%s %s

%s

%s

---- RESPONSE ----

%d %s

%s

%s`

func formatExchange(res *resty.Response) string {
	requestHeaders := ""
	requestBody := ""
	if raw := res.Request.RawRequest; raw != nil {
		requestHeaders = formatHeaders(raw.Header)
		requestBody = formatRequestBody(raw)
	}

	responseUrl := res.Request.URL
	if redirected, err := res.RawResponse.Location(); err == nil {
		responseUrl = redirected.String()
	}

	return fmt.Sprintf(
		exchangeTemplate,
		res.Request.Method, res.Request.URL,
		requestHeaders,
		requestBody,
		res.StatusCode(), responseUrl,
		formatHeaders(res.Header()),
		res.String(),
	)
}
