// Package config loads the PayChat daemon configuration from a YAML file,
// an optional .env file and PAYCHAT_* environment overrides, then fills in
// defaults and validates the combination of ledger, event, model and
// password settings.
package config
