/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package promptbuilder assembles prompts from templates with {{name}}
// placeholders. Templates must be string literals; runtime data (PR titles,
// READMEs, model output) is only ever bound through an encoding binding so it
// cannot smuggle new placeholders or instructions into the template itself.
package promptbuilder

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"maps"
	"strings"

	"gopkg.in/yaml.v3"
)

// textEscaper escapes markup but keeps newlines and quotes readable.
var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// literal only accepts untyped string constants at call sites.
type literal string

// Prompt is an immutable template plus its placeholder bindings.
type Prompt struct {
	template string
	values   map[string]func() (string, error)
}

// NewPrompt parses template and records its placeholders as unbound.
func NewPrompt(template literal) (*Prompt, error) {
	values := make(map[string]func() (string, error))
	if _, err := expand(string(template), func(name string) (string, error) {
		values[name] = nil
		return "", nil
	}); err != nil {
		return nil, err
	}
	return &Prompt{template: string(template), values: values}, nil
}

// MustNewPrompt is NewPrompt for package-level variables; it panics on error.
func MustNewPrompt(template literal) *Prompt {
	p, err := NewPrompt(template)
	if err != nil {
		panic(err)
	}
	return p
}

// Placeholders returns the set of placeholder names in the template.
func (p *Prompt) Placeholders() map[string]struct{} {
	names := make(map[string]struct{}, len(p.values))
	for name := range p.values {
		names[name] = struct{}{}
	}
	return names
}

func (p *Prompt) bind(name string, fn func() (string, error)) (*Prompt, error) {
	v, ok := p.values[name]
	switch {
	case !ok:
		return nil, fmt.Errorf("placeholder %q not found in template", name)
	case v != nil:
		return nil, fmt.Errorf("placeholder %q already bound", name)
	}
	np := &Prompt{template: p.template, values: maps.Clone(p.values)}
	np.values[name] = fn
	return np, nil
}

// BindLiteral binds a developer-supplied constant.
func (p *Prompt) BindLiteral(name string, value literal) (*Prompt, error) {
	return p.bind(name, func() (string, error) { return string(value), nil })
}

// BindText binds runtime text, XML-escaped and wrapped in a <tag> element so
// the model can tell data from instructions.
func (p *Prompt) BindText(name, tag, value string) (*Prompt, error) {
	return p.bind(name, func() (string, error) {
		return "<" + tag + ">" + textEscaper.Replace(value) + "</" + tag + ">", nil
	})
}

// BindXML binds data marshaled as indented XML.
func (p *Prompt) BindXML(name string, data any) (*Prompt, error) {
	return p.bind(name, func() (string, error) {
		b, err := xml.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal XML: %w", err)
		}
		return string(b), nil
	})
}

// BindJSON binds data marshaled as indented JSON.
func (p *Prompt) BindJSON(name string, data any) (*Prompt, error) {
	return p.bind(name, func() (string, error) {
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return string(b), nil
	})
}

// BindYAML binds data marshaled as YAML.
func (p *Prompt) BindYAML(name string, data any) (*Prompt, error) {
	return p.bind(name, func() (string, error) {
		b, err := yaml.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return strings.TrimRight(string(b), "\n"), nil
	})
}

// Build renders the prompt. Every placeholder must be bound.
func (p *Prompt) Build() (string, error) {
	rendered := make(map[string]string, len(p.values))
	for name, fn := range p.values {
		if fn == nil {
			return "", fmt.Errorf("unbound placeholder: %s", name)
		}
		v, err := fn()
		if err != nil {
			return "", err
		}
		rendered[name] = v
	}
	return expand(p.template, func(name string) (string, error) {
		return rendered[name], nil
	})
}

// Bindable is implemented by request types that know how to fill a prompt.
type Bindable interface {
	Bind(*Prompt) (*Prompt, error)
}

// Render binds req into p and builds the result.
func Render(p *Prompt, req Bindable) (string, error) {
	bound, err := req.Bind(p)
	if err != nil {
		return "", fmt.Errorf("binding prompt: %w", err)
	}
	return bound.Build()
}
