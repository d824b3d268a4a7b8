// Package paychat is a Go client for the PayChat HTTP API.
package paychat
