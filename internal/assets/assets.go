package assets

import _ "embed"

// Embedded default data files
// These are compiled into the binary at build time

//go:embed trackers.json
var TrackerDB []byte
