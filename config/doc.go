// Package config loads meshflow configuration.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file, then environment variables. Every field carries an env tag; nested
// sections join their tags with underscores under the prefix, e.g.
// MESHFLOW_STORE_REDIS_ADDR or MESHFLOW_MODEL_PROVIDER.
//
//	cfg, err := config.NewLoader().
//		WithConfigPath("meshflow.yaml").
//		WithEnvPrefix("MESHFLOW").
//		Load()
package config
