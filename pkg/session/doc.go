// Package session supplies the authentication state the app starts from.
//
// The client never verifies credentials itself. A Provider reports whether
// the user is authenticated and whether the surrounding context already
// switched and loaded data, which lets the app skip its own connect and
// initial load.
package session
