package dispatch

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/EPFL-ENAC/AddLidar/internal/scanner"
	"github.com/EPFL-ENAC/AddLidar/internal/services"
)

//go:embed templates/*.yaml.tmpl
var templateFS embed.FS

// TemplateUnit is one work item as handed to the worker in UNITS_JSON.
type TemplateUnit struct {
	Key         string `json:"key"`
	Mission     string `json:"mission"`
	Source      string `json:"source"`
	Output      string `json:"output"`
	Fingerprint string `json:"fp"`
}

// TemplateData is the context a job template is rendered with.
type TemplateData struct {
	JobName     string
	Namespace   string
	RunID       string
	Timestamp   string
	Kind        string
	Parallelism int
	Units       []TemplateUnit

	SourceRoot  string
	ArchiveRoot string
	PotreeRoot  string
	VolumeClaim string
	BackendURL  string
	Image       string
}

var templateFuncs = template.FuncMap{
	"quote": yamlQuote,
	"json":  jsonString,
	"base":  filepath.Base,
	"lower": strings.ToLower,
}

// yamlQuote renders a double-quoted scalar. JSON string syntax is a subset
// of YAML's double-quoted style.
func yamlQuote(value any) (string, error) {
	data, err := json.Marshal(fmt.Sprint(value))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func jsonString(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func defaultTemplateName(kind scanner.UnitKind) string {
	if kind == scanner.KindMarker {
		return "templates/potree.yaml.tmpl"
	}
	return "templates/compression.yaml.tmpl"
}

// LoadTemplate parses the job template for kind. An empty path selects the
// built-in manifest; a path that cannot be read is a configuration error.
func LoadTemplate(kind scanner.UnitKind, path string) (*template.Template, error) {
	name := defaultTemplateName(kind)
	var (
		body []byte
		err  error
	)
	if strings.TrimSpace(path) == "" {
		body, err = fs.ReadFile(templateFS, name)
	} else {
		name = path
		body, err = os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: job template %s not found", services.ErrConfiguration, path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read job template %s: %w", services.ErrConfiguration, name, err)
	}
	tmpl, err := template.New(filepath.Base(name)).
		Option("missingkey=error").
		Funcs(templateFuncs).
		Parse(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse job template %s: %w", services.ErrConfiguration, name, err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data TemplateData) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("%w: render %s: %w", services.ErrConfiguration, tmpl.Name(), err)
	}
	return buf.Bytes(), nil
}

func templateUnits(units []scanner.Unit) []TemplateUnit {
	out := make([]TemplateUnit, 0, len(units))
	for _, u := range units {
		out = append(out, TemplateUnit{
			Key:         u.Key,
			Mission:     u.MissionKey,
			Source:      u.SourcePath,
			Output:      u.OutputPath,
			Fingerprint: u.Fingerprint,
		})
	}
	return out
}
