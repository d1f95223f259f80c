/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package vm

import (
	_ "embed"
	"strings"
	"text/template"

	"al.essio.dev/pkg/shellescape"
)

//go:embed boot.sh
var bootTemplate string

var bootScript = template.Must(template.New("boot").
	Funcs(template.FuncMap{"shellquote": shellescape.Quote}).
	Parse(bootTemplate))

// BootScript is the user data with no extra authorized keys.
var BootScript = MustRenderBootScript()

// RenderBootScript renders the instance user data. It installs the desktop
// (Xvfb on :1, XFCE, x11vnc, noVNC on :6080, chromium), creates the
// passwordless-sudo vibepr user and authorizes the given public keys for it.
func RenderBootScript(authorizedKeys ...string) (string, error) {
	var sb strings.Builder
	if err := bootScript.Execute(&sb, struct{ AuthorizedKeys []string }{authorizedKeys}); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// MustRenderBootScript is RenderBootScript that panics on error.
func MustRenderBootScript(authorizedKeys ...string) string {
	s, err := RenderBootScript(authorizedKeys...)
	if err != nil {
		panic(err)
	}
	return s
}
