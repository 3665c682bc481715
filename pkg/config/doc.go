// Package config loads the flexhook project file.
//
// A project is configured by flexhook.yaml (or flexhook.yml, or
// flexhook.toml) at the project root. Every key is optional; missing keys
// keep the values from Default. Relative paths are resolved against the
// directory holding the file.
//
//	ledger_file: flexhook.lock
//	vendor_dir: vendor
//	installed_file: vendor/installed.json
//	flush_policy: incremental
//	history_db: .flexhook/history.db
//	target_dirs:
//	  "%CONFIG_DIR%": etc
//	telemetry:
//	  logging:
//	    level: debug
package config
