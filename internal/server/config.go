package server

// Config holds everything the composition root needs to wire up and
// listen. Loaded by cmd/serve.go from the environment (see the
// configuration section of the expanded spec), not read directly by
// this package.
type Config struct {
	Port                string
	CORSOrigins         []string
	DataDir             string
	OpenAIKey           string
	JudgeNarrationModel string
	TLSCertFile         string
	TLSKeyFile          string
	AppEnv              string
}
