// Package cli holds command logic shared by the mediagate binary that is
// worth testing without cobra.
package cli

// DefaultConfigFile is where check --fix writes a config when neither
// --config nor MEDIAGATE_CONFIG names one.
const DefaultConfigFile = "mediagate.yaml"
