package templates

import (
	"bytes"
	"io"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Template is a reusable prompt inserted into the composer.
type Template struct {
	Name    string `yaml:"name"`
	Content string `yaml:"content"`
}

// Library holds the prompt templates and the example prompts offered for an
// empty conversation.
type Library struct {
	Templates []Template `yaml:"templates"`
	Examples  []string   `yaml:"examples"`
}

// Data is what a template body can refer to.
type Data struct {
	Title  string
	Folder string
	Now    time.Time
}

const defaultLibrary = `
templates:
  - name: Bug Report
    content: |
      ## Bug report ({{ .Now | date "2006-01-02" }})

      **What happened:**

      **Expected:**

      **Steps to reproduce:**
      1.
  - name: Daily Standup
    content: |
      Standup for {{ .Now | date "Monday, Jan 2" }}
      - Yesterday:
      - Today:
      - Blockers:
  - name: Summarize
    content: |
      Summarize our conversation "{{ .Title | default "this chat" }}" in {{ list "three" "five" | first }} bullet points.
examples:
  - "ITSM이란?"
  - "2025년 팀 별 만족도 점수를 알려줘"
  - "팀 별 품질컨덕터를 알려줘"
`

// Default returns the built-in library.
func Default() *Library {
	l, err := Load(strings.NewReader(defaultLibrary))
	if err != nil {
		panic(err)
	}
	return l
}

func Load(r io.Reader) (*Library, error) {
	var l Library
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&l); err != nil {
		if errors.Is(err, io.EOF) {
			return &Library{}, nil
		}
		return nil, errors.Wrap(err, "decode template library")
	}
	seen := map[string]struct{}{}
	for i, t := range l.Templates {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, errors.Errorf("template %d has no name", i)
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return nil, errors.Errorf("duplicate template %q", name)
		}
		seen[key] = struct{}{}
		if _, err := parse(t); err != nil {
			return nil, err
		}
		l.Templates[i].Name = name
	}
	return &l, nil
}

func LoadFile(path string) (*Library, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open template library %s", path)
	}
	defer func() {
		_ = f.Close()
	}()
	return Load(f)
}

// Find looks a template up by name, ignoring case.
func (l *Library) Find(name string) (Template, bool) {
	for _, t := range l.Templates {
		if strings.EqualFold(t.Name, strings.TrimSpace(name)) {
			return t, true
		}
	}
	return Template{}, false
}

func (l *Library) Names() []string {
	ret := make([]string, 0, len(l.Templates))
	for _, t := range l.Templates {
		ret = append(ret, t.Name)
	}
	return ret
}

// Render expands the template body with the sprig function map.
func (t Template) Render(data Data) (string, error) {
	tmpl, err := parse(t)
	if err != nil {
		return "", err
	}
	if data.Now.IsZero() {
		data.Now = time.Now()
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "render template %q", t.Name)
	}
	return buf.String(), nil
}

func parse(t Template) (*template.Template, error) {
	tmpl, err := template.New(t.Name).Funcs(sprig.TxtFuncMap()).Parse(t.Content)
	if err != nil {
		return nil, errors.Wrapf(err, "parse template %q", t.Name)
	}
	return tmpl, nil
}
