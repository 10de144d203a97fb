// Package api exposes the bulk job scheduler over HTTP: submitting jobs,
// inspecting their progress, cancelling and deleting them. It translates
// scheduler and store errors into status codes without leaking their text.
package api
