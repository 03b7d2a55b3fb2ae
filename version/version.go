package version

var (
	Version = "1.0.0"
	GitHash = "dev"
	BuildTS = "2026-01-01T00:00:00Z" // to be replaced at build time
	Agent   = "smudbg/" + Version
)
