package domain

// Worker transport kinds.
const (
	TransportProcess = "process"
	TransportGRPC    = "grpc"
)

// WorkerSettings selects how the engine reaches its inference worker.
type WorkerSettings struct {
	Transport string   `json:"transport" yaml:"transport"`
	Command   string   `json:"command" yaml:"command"`
	Args      []string `json:"args,omitempty" yaml:"args,omitempty"`
	Address   string   `json:"address,omitempty" yaml:"address,omitempty"`
}

// Settings is the application configuration loaded at startup.
type Settings struct {
	Worker   WorkerSettings `json:"worker" yaml:"worker"`
	ModelDir string         `json:"modelDir" yaml:"model_dir"`
	LogLevel string         `json:"logLevel" yaml:"log_level"`
	Session  SessionConfig  `json:"session" yaml:"session"`
}
