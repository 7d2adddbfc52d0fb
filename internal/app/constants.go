package app

const (
	Name           = "meshbridge"
	ConfigFilename = "config.json"
	DBFilename     = "bridge.db"
	LogFilename    = "bridge.log"
)
