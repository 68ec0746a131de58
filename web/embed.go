package web

import "embed"

// TemplatesFS embeds HTML templates for the dashboard and the HTML invoice.
//
//go:embed templates/*.html
var TemplatesFS embed.FS

// StaticFS embeds static assets served under /static/.
//
//go:embed static/*
var StaticFS embed.FS
