package engine

type ApplicationConfig struct {
	// The application name reported to the driver and used in logs.
	Name string
	// Path of a TOML or YAML config file. Empty means defaults, no watching.
	ConfigPath string
	// Backbuffer width.
	Width uint32
	// Backbuffer height.
	Height uint32
	// Stop after this many frames. 0 runs until quit.
	MaxFrames uint64
	// Frame rate cap. 0 disables the limiter.
	TargetFPS float64
}
