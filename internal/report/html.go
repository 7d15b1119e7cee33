// Package report renders the human-readable incident page shipped in every
// bundle. The page is a single file with inline styles and no scripts so it
// opens offline from inside the extracted archive.
package report

import (
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/ManuGH/blackbox/internal/incident"
)

// FileName is the bundle entry holding the rendered page.
const FileName = "report.html"

// RecordingFileName is the bundle entry the page tells the reader to open.
const RecordingFileName = "recording.trace"

var page = template.Must(template.New("report").Funcs(template.FuncMap{
	"breaks": withBreaks,
	"stamp":  func(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) },
}).Parse(pageTemplate))

type pageData struct {
	Meta      incident.Metadata
	Summary   incident.Summary
	Recording string
}

// WriteHTML renders r to w.
func WriteHTML(w io.Writer, r incident.Report) error {
	return page.Execute(w, pageData{Meta: r.Meta, Summary: r.Summary, Recording: RecordingFileName})
}

// withBreaks escapes s and then turns line endings into <br> and tabs into
// a character reference.
func withBreaks(s string) template.HTML {
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			b.WriteString("<br>")
		case '\n':
			b.WriteString("<br>")
		case '\t':
			b.WriteString("&#9;")
		default:
			j := i
			for j < len(s) && s[j] != '\r' && s[j] != '\n' && s[j] != '\t' {
				j++
			}
			b.WriteString(template.HTMLEscapeString(s[i:j]))
			i = j - 1
		}
	}
	return template.HTML(b.String()) //nolint:gosec // escaped above
}

const pageTemplate = `<!doctype html><html lang="en"><head><meta charset="utf-8">` +
	`<title>Blackbox Incident {{.Meta.ID}}</title>` +
	`<style>` +
	`:root{--bg:#101418;--fg:#e6e9ec;--muted:#8a96a3;--card:#182028;--accent:#f0a040;--border:#26313c;}` +
	`body{margin:0;font-family:ui-sans-serif,system-ui,sans-serif;background:var(--bg);color:var(--fg);line-height:1.5;}` +
	`main{max-width:920px;margin:32px auto;padding:0 24px;}` +
	`header,.card{background:var(--card);border:1px solid var(--border);border-radius:10px;padding:20px;margin-bottom:16px;}` +
	`h1{margin:4px 0 8px;font-size:28px;}` +
	`h2{margin:0 0 10px;font-size:18px;color:var(--accent);}` +
	`.meta{color:var(--muted);font-size:14px;}` +
	`.sev-CRITICAL{color:#ff6b6b;}.sev-DEGRADED{color:#f0c040;}.sev-INFO{color:#7fb8ff;}` +
	`.grid{display:grid;grid-template-columns:repeat(auto-fit,minmax(260px,1fr));gap:16px;}` +
	`ul{margin:0 0 0 18px;padding:0;}` +
	`code{background:#0b0f12;padding:2px 6px;border-radius:4px;}` +
	`</style></head><body><main>` +
	`<header><div class="meta">Incident ID: {{.Meta.ID}}</div>` +
	`<h1>{{breaks .Meta.Headline}}</h1>` +
	`<div class="meta">Severity: <span class="sev-{{.Meta.Severity}}">{{.Meta.Severity}}</span>` +
	` · Trigger: {{.Meta.Trigger}} · Created: {{stamp .Meta.CreatedAt}}</div>` +
	`{{if .Meta.Scope}}<div class="meta">Scope: {{.Meta.Scope}}</div>{{end}}` +
	`</header>` +
	`<section class="grid">` +
	`<div class="card"><h2>Likely cause</h2><p>{{breaks .Summary.LikelyCause}}</p></div>` +
	`<div class="card"><h2>Next steps</h2><ul>{{range .Summary.NextSteps}}<li>{{breaks .}}</li>{{end}}</ul></div>` +
	`</section>` +
	`<section class="card"><h2>What happened</h2><ul>{{range .Summary.WhatHappened}}<li>{{breaks .}}</li>{{end}}</ul></section>` +
	`<section class="card"><h2>How to open {{.Recording}}</h2>` +
	`<p>The recording is a Go execution trace. Extract the bundle and run ` +
	`<code>go tool trace {{.Recording}}</code>, then open the printed address in a browser. ` +
	`Start with the goroutine analysis and the blocking profiles around the incident time.</p>` +
	`</section>` +
	`</main></body></html>`
