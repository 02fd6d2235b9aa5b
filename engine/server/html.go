package server

import (
	"html/template"
	"net/http"
)

// The pages are generated from the form configuration: the index renders
// the input form, /stream renders the live event view beside it.

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2rem; background: {{if eq .Form.Theme "dark"}}#1e1e1e; color: #eee{{else}}#fafafa; color: #222{{end}}; }
.form-panel { max-width: 640px; }
label { display: block; margin-top: 1rem; font-weight: bold; }
input, select, textarea { width: 100%; padding: 0.5rem; margin-top: 0.25rem; }
button { margin-top: 1rem; padding: 0.5rem 1.5rem; }
#result { margin-top: 1rem; white-space: pre-wrap; font-family: monospace; }
</style>
</head>
<body>
<div class="form-panel">
<h1>{{.Form.Title}}</h1>
<form id="input-form">
{{range .Form.Fields}}
<label for="{{.Name}}">{{.Label}}{{if .Required}} *{{end}}</label>
{{if .Options}}
<select id="{{.Name}}" name="{{.Name}}"{{if .Required}} required{{end}}>
{{range .Options}}<option value="{{.}}">{{.}}</option>{{end}}
</select>
{{else}}
<input id="{{.Name}}" name="{{.Name}}" type="{{.Type}}" placeholder="{{.Placeholder}}"{{if .Required}} required{{end}}>
{{end}}
{{end}}
<button type="submit">Send</button>
</form>
<div id="result"></div>
</div>
<script>
document.getElementById("input-form").addEventListener("submit", async (e) => {
  e.preventDefault();
  const data = Object.fromEntries(new FormData(e.target).entries());
  const resp = await fetch("/process", {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify(data),
  });
  document.getElementById("result").textContent = JSON.stringify(await resp.json(), null, 2);
});
</script>
</body>
</html>
`))

var streamTmpl = template.Must(template.New("stream").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}} — Stream</title>
<style>
body { font-family: sans-serif; margin: 2rem; background: {{if eq .Form.Theme "dark"}}#1e1e1e; color: #eee{{else}}#fafafa; color: #222{{end}}; }
#events { height: {{if .Form.Height}}{{.Form.Height}}{{else}}300px{{end}}; overflow-y: scroll; border: 1px solid #888; padding: 0.5rem; font-family: monospace; }
.ev-user { color: #58f; }
.ev-error { color: #f55; }
</style>
</head>
<body>
<h1>{{.Title}} — live output</h1>
<div id="events"></div>
<script>
const box = document.getElementById("events");
const es = new EventSource("/output-stream");
es.onmessage = (e) => {
  const ev = JSON.parse(e.data);
  const line = document.createElement("div");
  line.className = "ev-" + ev.type;
  line.textContent = ev.timestamp + "  [" + ev.type + "]  " + JSON.stringify(ev.output);
  box.appendChild(line);
  box.scrollTop = box.scrollHeight;
};
</script>
</body>
</html>
`))

type pageData struct {
	Title string
	Form  FormConfig
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, pageData{Title: s.cfg.Title, Form: s.cfg.Form}); err != nil {
		s.log.Error("render index", "error", err)
	}
}

func (s *Server) handleStreamPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := streamTmpl.Execute(w, pageData{Title: s.cfg.Title, Form: s.cfg.Form}); err != nil {
		s.log.Error("render stream page", "error", err)
	}
}
