// Package config loads environment-based configuration structs for the
// delivery engine's components (queue, retry, storage backends, logger).
//
// Components each define their own Config struct with `env` tags; the
// composition root loads them via Load or MustLoad and passes them down
// explicitly. There is no global configuration object.
package config
