// Package web embeds the dashboard page and its assets.
package web

import "embed"

// TemplatesFS holds the server-rendered pages.
//
//go:embed templates/*.html
var TemplatesFS embed.FS

// StaticFS holds the scripts and stylesheets served under /static/.
//
//go:embed static/*
var StaticFS embed.FS
