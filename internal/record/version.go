package record

const (
	// FormatVersion is the encoding version of logged record values.
	FormatVersion = "1"

	// EngineVersion is the streamcore release.
	EngineVersion = "0.1.0"
)

// VersionString describes the release and the record format it writes.
func VersionString() string {
	return EngineVersion + " (record format " + FormatVersion + ")"
}
