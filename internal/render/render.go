// Package render fills reply templates and builds the status embed.
// Everything here is pure: the same snapshot and settings always give the
// same output.
package render

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/ernie/craftwatch/internal/domain"
)

// Kind names a renderable template
type Kind string

const (
	KindIP            Kind = "ip"
	KindSite          Kind = "site"
	KindVersion       Kind = "version"
	KindStatusOnline  Kind = "status_online"
	KindStatusOffline Kind = "status_offline"
	KindFullStatus    Kind = "full_status"

	KindPresenceOnline  Kind = "presence_online"
	KindPresenceOffline Kind = "presence_offline"
)

// Unknown replaces any placeholder whose value is not available
const Unknown = "unknown"

var placeholderRegex = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

var placeholders = map[string]bool{
	"ip": true, "port": true, "site": true, "version": true, "name": true,
	"playerOnline": true, "playerMax": true, "motd": true, "serverVersion": true,
}

// Error reports a template that cannot be rendered.
// Templates are validated at startup, so this signals a defect.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CheckTemplate rejects templates that reference unknown placeholders
func CheckTemplate(tmpl string) error {
	for _, m := range placeholderRegex.FindAllStringSubmatch(tmpl, -1) {
		if !placeholders[m[1]] {
			return fmt.Errorf("unknown placeholder {%s}", m[1])
		}
	}
	return nil
}

// Fill replaces every {placeholder} in tmpl. Missing or empty values and
// unknown names become Unknown, so no placeholder survives.
func Fill(tmpl string, values map[string]string) string {
	return placeholderRegex.ReplaceAllStringFunc(tmpl, func(m string) string {
		if v := values[m[1:len(m)-1]]; v != "" {
			return v
		}
		return Unknown
	})
}

// Static holds the configured facts about the server
type Static struct {
	IP      string
	Port    int
	Site    string
	Version string
	Name    string
}

// Address returns ip:port, or just the ip when no port is known
func (s Static) Address() string {
	if s.Port <= 0 {
		return s.IP
	}
	return s.IP + ":" + strconv.Itoa(s.Port)
}

// Templates holds the text templates per kind
type Templates struct {
	IP              string
	Site            string
	Version         string
	StatusOnline    string
	StatusOffline   string
	PresenceOnline  string
	PresenceOffline string
}

// EmbedStyle controls the status embed
type EmbedStyle struct {
	Title              string
	OnlineDescription  string
	OfflineDescription string
	ColorOnline        int
	ColorOffline       int
	Thumbnail          string
	Footer             string
}

// Renderer renders templates for one configured server
type Renderer struct {
	static    Static
	templates map[Kind]string
	style     EmbedStyle
}

// New creates a renderer
func New(static Static, templates Templates, style EmbedStyle) *Renderer {
	return &Renderer{
		static: static,
		templates: map[Kind]string{
			KindIP:              templates.IP,
			KindSite:            templates.Site,
			KindVersion:         templates.Version,
			KindStatusOnline:    templates.StatusOnline,
			KindStatusOffline:   templates.StatusOffline,
			KindPresenceOnline:  templates.PresenceOnline,
			KindPresenceOffline: templates.PresenceOffline,
		},
		style: style,
	}
}

// Static returns the configured server facts
func (r *Renderer) Static() Static {
	return r.static
}

// Values returns the placeholder values for a snapshot; snap may be nil
func (r *Renderer) Values(snap *domain.Snapshot) map[string]string {
	values := map[string]string{
		"ip":      r.static.IP,
		"site":    r.static.Site,
		"version": r.static.Version,
		"name":    r.static.Name,
	}
	if r.static.Port > 0 {
		values["port"] = strconv.Itoa(r.static.Port)
	}
	if snap != nil {
		values["playerOnline"] = strconv.Itoa(snap.Players.Online)
		values["playerMax"] = strconv.Itoa(snap.Players.Max)
		values["motd"] = snap.Raw.MOTD
		values["serverVersion"] = snap.Raw.Version
		if values["version"] == "" {
			values["version"] = snap.Raw.Version
		}
	}
	return values
}

// Text renders a text template. snap may be nil for kinds that only use
// static fields.
func (r *Renderer) Text(kind Kind, snap *domain.Snapshot) (string, error) {
	tmpl, ok := r.templates[kind]
	if !ok {
		return "", &Error{Kind: kind, Err: errors.New("not a text template")}
	}
	if tmpl == "" {
		return "", &Error{Kind: kind, Err: errors.New("template is empty")}
	}
	if err := CheckTemplate(tmpl); err != nil {
		return "", &Error{Kind: kind, Err: err}
	}
	return Fill(tmpl, r.Values(snap)), nil
}

// StatusText renders the status reply matching the snapshot's state
func (r *Renderer) StatusText(snap domain.Snapshot) (string, error) {
	if snap.Online {
		return r.Text(KindStatusOnline, &snap)
	}
	return r.Text(KindStatusOffline, &snap)
}

// PresenceText renders the activity text matching the snapshot's state
func (r *Renderer) PresenceText(snap domain.Snapshot) (string, error) {
	if snap.Online {
		return r.Text(KindPresenceOnline, &snap)
	}
	return r.Text(KindPresenceOffline, &snap)
}
