// Package consent derives tracking permissions from request-supplied
// privacy signals: a consent mode, an external consent flag, and an
// opt-out marker. The gateway evaluates a Consent once per request and
// gates cookie assignment, identification, and IP handling on it.
package consent
