// Package alerting fans out alert-worthy failures to the configured
// notification channels.
package alerting
