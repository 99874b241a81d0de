// Package templates renders notification bodies and subjects.
//
// Templates are looked up by name in the configured templates_folders (local
// directories or s3://bucket/prefix), first folder first, then in the
// built-in defaults. Names ending in .html (or .html.j2 and similar) are
// rendered with html/template, everything else with text/template. Both get the sprig function set.
package templates

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	texttemplate "text/template"

	"github.com/Masterminds/sprig/v3"
	"go.uber.org/zap"

	"github.com/potooio/potoo-mailer/internal/types"
	"github.com/potooio/potoo-mailer/internal/util"
)

//go:embed defaults/*
var defaultsFS embed.FS

// ErrNotFound is returned when no folder or default provides a template.
var ErrNotFound = errors.New("template not found")

// Default template names per channel.
const (
	DefaultEmail      = "default.html"
	DefaultText       = "default.txt"
	DefaultSlack      = "slack_default"
	DefaultJira       = "jira_default"
	DefaultServiceNow = "servicenow_default.html"
)

var extensions = []string{"", ".html", ".j2", ".tmpl", ".txt"}

// Group describes the routing group a ticket body is rendered for.
type Group struct {
	Name  string
	Route string
}

// Data is the value templates execute against.
type Data struct {
	Event      *types.Event
	Policy     types.Policy
	Account    string
	AccountID  string
	Region     string
	Action     types.Action
	Resources  []types.Resource
	Recipients []string
	Group      Group
}

// NewData builds template data for a subset of an event's resources.
func NewData(ev *types.Event, resources []types.Resource, recipients []string) Data {
	return Data{
		Event:      ev,
		Policy:     ev.Policy,
		Account:    ev.Account,
		AccountID:  ev.AccountID,
		Region:     ev.Region,
		Action:     ev.Action,
		Resources:  resources,
		Recipients: recipients,
	}
}

// Renderer holds template sources and compiled templates.
type Renderer struct {
	logger  *zap.Logger
	mu      sync.Mutex
	sources map[string]string
	text    map[string]*texttemplate.Template
	html    map[string]*htmltemplate.Template
}

// NewRenderer creates a renderer with only the built-in defaults loaded.
func NewRenderer(logger *zap.Logger) *Renderer {
	r := &Renderer{
		logger:  logger.Named("templates"),
		sources: make(map[string]string),
		text:    make(map[string]*texttemplate.Template),
		html:    make(map[string]*htmltemplate.Template),
	}
	return r
}

// Load reads templates from folders, in priority order. Folders starting with
// s3:// are fetched through s3; s3 may be nil when no such folder is used.
func Load(ctx context.Context, folders []string, s3 S3API, logger *zap.Logger) (*Renderer, error) {
	r := NewRenderer(logger)
	for _, folder := range folders {
		var err error
		if strings.HasPrefix(folder, "s3://") {
			if s3 == nil {
				return nil, fmt.Errorf("templates folder %s requires an S3 client", folder)
			}
			err = r.loadS3(ctx, s3, folder)
		} else {
			err = r.loadDir(folder)
		}
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers a template source unless a higher-priority one exists.
func (r *Renderer) Add(name, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[name]; exists {
		return
	}
	r.sources[name] = source
}

func (r *Renderer) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("Templates folder does not exist", zap.String("folder", dir))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read templates folder %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read template %s: %w", e.Name(), err)
		}
		r.Add(e.Name(), string(data))
	}
	return nil
}

// source finds a template by name, trying common extensions.
func (r *Renderer) source(name string) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range extensions {
		if src, ok := r.sources[name+ext]; ok {
			return name + ext, src, nil
		}
	}
	for _, ext := range extensions {
		data, err := defaultsFS.ReadFile("defaults/" + name + ext)
		if err == nil {
			return name + ext, string(data), nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Render executes the named template. The engine follows the resolved
// file name: .html uses html/template.
func (r *Renderer) Render(name string, data Data) (string, error) {
	resolved, src, err := r.source(name)
	if err != nil {
		return "", err
	}
	if isHTMLName(resolved) {
		return r.renderHTML(resolved, src, data)
	}
	return r.renderText(resolved, src, data)
}

// IsHTML reports whether the named template renders HTML.
func (r *Renderer) IsHTML(name string) bool {
	resolved, _, err := r.source(name)
	return err == nil && isHTMLName(resolved)
}

// isHTMLName matches "x.html" and "x.html.j2".
func isHTMLName(name string) bool {
	return strings.HasSuffix(name, ".html") || strings.Contains(name, ".html.")
}

// RenderText executes the named template with text/template regardless of
// its extension, for plaintext sinks (topics, chat).
func (r *Renderer) RenderText(name string, data Data) (string, error) {
	resolved, src, err := r.source(name)
	if err != nil {
		return "", err
	}
	return r.renderText(resolved, src, data)
}

// RenderString executes an inline text template such as a subject line.
// Strings without actions are returned unchanged.
func (r *Renderer) RenderString(text string, data Data) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	return r.renderText("inline:"+text, text, data)
}

func (r *Renderer) renderText(name, src string, data Data) (string, error) {
	r.mu.Lock()
	t, ok := r.text[name]
	if !ok {
		var err error
		t, err = texttemplate.New(name).Funcs(sprig.TxtFuncMap()).Funcs(texttemplate.FuncMap(funcs())).Parse(src)
		if err != nil {
			r.mu.Unlock()
			return "", fmt.Errorf("parse template %s: %w", name, err)
		}
		r.text[name] = t
	}
	r.mu.Unlock()

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}

func (r *Renderer) renderHTML(name, src string, data Data) (string, error) {
	r.mu.Lock()
	t, ok := r.html[name]
	if !ok {
		var err error
		t, err = htmltemplate.New(name).Funcs(sprig.FuncMap()).Funcs(htmltemplate.FuncMap(funcs())).Parse(src)
		if err != nil {
			r.mu.Unlock()
			return "", fmt.Errorf("parse template %s: %w", name, err)
		}
		r.html[name] = t
	}
	r.mu.Unlock()

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}

var idFields = []string{
	"InstanceId", "DBInstanceIdentifier", "DBClusterIdentifier", "FunctionName",
	"BucketName", "GroupId", "VolumeId", "UserName", "RoleName", "Arn", "ARN",
	"selfLink", "id", "name", "Name",
}

// ResourceID picks a human-readable identifier for a resource.
func ResourceID(r types.Resource) string {
	if field := util.SafeStringFromMap(r, "c7n_resource_type_id"); field != "" {
		if v := util.Stringify(r[field]); v != "" {
			return v
		}
	}
	for _, f := range idFields {
		if v := util.Stringify(r[f]); v != "" {
			return v
		}
	}
	return "unknown"
}

func funcs() map[string]interface{} {
	return map[string]interface{}{
		"resourceID": ResourceID,
		"resourceTags": func(r types.Resource) map[string]string {
			return util.ResourceTags(r)
		},
		"tagValue": func(r types.Resource, key string) string {
			return util.ResourceTags(r)[key]
		},
		"formatStruct": func(v interface{}) string {
			b, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return fmt.Sprint(v)
			}
			return string(b)
		},
	}
}
