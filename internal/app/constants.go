package app

const (
	Name           = "riglink"
	SourceURL      = "https://git.skobk.in/skobkin/riglink"
	ConfigFilename = "config.json"
	LogFilename    = "riglink.log"
	// HamlibDir holds a bundled Hamlib install under the config dir.
	HamlibDir = "hamlib"
)
