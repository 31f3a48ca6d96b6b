package system

var (
	// Version is the current version of wraith. Overwritten at build time with
	// -ldflags "-X github.com/northstar-wraith/wraith/system.Version=...".
	Version = "develop"
)
