// Package scripts bundles the in-page JavaScript helpers injected into
// browser sessions for DOM annotation capture.
package scripts

import _ "embed"

//go:embed dom.js
var domScript string

// DOMScript returns the in-page helper bundle. Sessions inject it as an init
// script so window.__harvest is available before any page script runs.
func DOMScript() string {
	return domScript
}
