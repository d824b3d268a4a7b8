// Package api exposes chat sessions over HTTP.
//
// Sessions are created and ended through REST endpoints; messages can be sent
// either as a JSON request that returns every produced chunk, or over a
// websocket that streams one frame per chunk. Health and Prometheus metrics
// endpoints are served from the same router.
package api
