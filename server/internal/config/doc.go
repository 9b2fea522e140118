// Package config loads the relay configuration.
//
// Settings come from three layers, later ones winning: built-in defaults, the
// `relay:` section of an optional YAML file, and command-line flags (passed to
// Load as overrides). ${VAR} references in the file are expanded from the
// environment before parsing.
//
// Config fields:
//   - CID          OD4 session to join (required)
//   - Port         HTTP/WebSocket listen port (required)
//   - HTTPRoot     directory served to browsers (required)
//   - TLS          cert_file/key_file; both or neither
//   - MapFile      enables GET /map
//   - ID           instance name for logs and metrics
//   - Verbose      debug logging
//   - Bus          transport (multicast, the default, or libp2p) and its options
//   - Clients      per-client send buffer, frame size limit, write timeout,
//     optional inbound rate limit
//
// Validation reports every problem at once. Missing required options wrap
// ErrMissingRequired.
package config
