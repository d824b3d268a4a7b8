// Package metrics keeps in-process counters for the HTTP layer and the chat
// loop and exposes them in the Prometheus text exposition format.
package metrics
