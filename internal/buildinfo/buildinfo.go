package buildinfo

// Set with -ldflags "-X hookline/internal/buildinfo.Version=..."
var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// UserAgent is sent on every outbound webhook request.
func UserAgent() string {
	return "hookline/" + Version
}

func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"commit":    Commit,
		"builtAt":   BuiltAt,
		"userAgent": UserAgent(),
	}
}
