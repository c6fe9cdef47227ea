package report

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Content Brief: {{.Topic}}</title>
<style>
  body {
    background: #f8fafc;
    color: #1e293b;
    font-family: 'Segoe UI', Arial, sans-serif;
    padding: 2rem;
    max-width: 860px;
    margin: 0 auto;
    line-height: 1.7;
  }
  h1 { color: #7c3aed; margin-bottom: 0.25rem; font-size: 1.6rem; }
  .meta { color: #64748b; font-size: 0.85rem; margin-bottom: 2rem; }
  .brief-body { background: white; border-radius: 8px; padding: 2rem 2.5rem;
                box-shadow: 0 1px 4px rgba(0,0,0,0.08); margin-bottom: 1.5rem; }
  h2 {
    color: #7c3aed;
    font-size: 1.1rem;
    font-weight: 700;
    margin: 2rem 0 0.5rem;
    padding-bottom: 0.3rem;
    border-bottom: 2px solid #ede9fe;
    text-transform: uppercase;
    letter-spacing: 0.04em;
  }
  h2:first-child { margin-top: 0; }
  h3 { color: #4c1d95; font-size: 0.95rem; font-weight: 600; margin: 1rem 0 0.3rem; }
  p { margin: 0.5rem 0; }
  ul, ol { padding-left: 1.5rem; margin: 0.4rem 0 0.8rem; }
  li { margin: 0.3rem 0; }
  strong { color: #0f172a; }
  .competitors { background: white; border-radius: 8px; padding: 1.5rem 2rem;
                 box-shadow: 0 1px 4px rgba(0,0,0,0.08); }
  .competitors h2 { margin-top: 0; }
  table { width: 100%; border-collapse: collapse; font-size: 0.88rem; }
  th { text-align: left; padding: 0.5rem 0.75rem; background: #f1f5f9; color: #475569; }
  td { padding: 0.5rem 0.75rem; border-top: 1px solid #e2e8f0; }
  a { color: #7c3aed; text-decoration: none; }
  a:hover { text-decoration: underline; }
</style>
</head>
<body>
<h1>Content Brief: {{.Topic}}</h1>
<div class="meta">
  Generated {{.GeneratedAt}} &nbsp;·&nbsp;
  {{.Count}} competitors analyzed{{if .Model}} &nbsp;·&nbsp;
  Powered by {{.Model}}{{end}}
</div>

<div class="brief-body">
{{.Body}}
</div>

<div class="competitors">
  <h2>Analyzed Competitors</h2>
  <table>
    <thead><tr><th>#</th><th>Page</th></tr></thead>
    <tbody>
{{- range .Competitors}}
<tr><td>{{.Rank}}</td><td><a href="{{.URL}}" target="_blank">{{.Title}}</a></td></tr>
{{- end}}
    </tbody>
  </table>
</div>
</body>
</html>
`
