// Package setup registers the MCP server with desktop MCP clients.
package setup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ServerKey is the entry name written into the client configuration
const ServerKey = "medical-examination-assistant"

// BinaryName is the MCP server executable looked up when no path is given
const BinaryName = "mcp-server"

// ClientConfig is the mcpServers section of a desktop client configuration.
// Other top-level keys of the file are preserved.
type ClientConfig struct {
	MCPServers map[string]ServerEntry `json:"mcpServers"`

	rest map[string]json.RawMessage
}

// ServerEntry launches one stdio MCP server
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options describe the entry to register
type Options struct {
	BinaryPath string
	ConfigFile string            // passed to the server as --config
	Env        map[string]string // e.g. GROQ_API_KEY
}

// Status reports whether the server is registered and launchable
type Status struct {
	ConfigPath string
	Registered bool
	Entry      ServerEntry
	Issues     []string
}

// DefaultConfigPath returns the Claude Desktop configuration file for this OS
func DefaultConfigPath() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", "Claude", "claude_desktop_config.json"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", errors.New("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "Claude", "claude_desktop_config.json"), nil
	default:
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("failed to get config directory: %w", err)
		}
		return filepath.Join(dir, "Claude", "claude_desktop_config.json"), nil
	}
}

// Load reads the client configuration. A missing file gives an empty one.
func Load(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{MCPServers: map[string]ServerEntry{}, rest: map[string]json.RawMessage{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg.rest); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if raw, ok := cfg.rest["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &cfg.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
		delete(cfg.rest, "mcpServers")
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = map[string]ServerEntry{}
	}
	return cfg, nil
}

// Save writes the configuration, creating the directory when needed
func Save(path string, cfg *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := make(map[string]any, len(cfg.rest)+1)
	for k, v := range cfg.rest {
		out[k] = v
	}
	out["mcpServers"] = cfg.MCPServers

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Register adds or replaces the server entry in the client configuration at path
func Register(path string, opts Options) (ServerEntry, error) {
	binary := opts.BinaryPath
	if binary == "" {
		found, err := FindBinary()
		if err != nil {
			return ServerEntry{}, err
		}
		binary = found
	}
	binary, err := filepath.Abs(binary)
	if err != nil {
		return ServerEntry{}, fmt.Errorf("resolving binary path: %w", err)
	}

	entry := ServerEntry{Command: binary, Env: opts.Env}
	if opts.ConfigFile != "" {
		configFile, err := filepath.Abs(opts.ConfigFile)
		if err != nil {
			return ServerEntry{}, fmt.Errorf("resolving config path: %w", err)
		}
		entry.Args = []string{"--config", configFile}
	}

	cfg, err := Load(path)
	if err != nil {
		return ServerEntry{}, err
	}
	cfg.MCPServers[ServerKey] = entry
	return entry, Save(path, cfg)
}

// Unregister removes the server entry; a missing entry is not an error
func Unregister(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	if _, ok := cfg.MCPServers[ServerKey]; !ok {
		return nil
	}
	delete(cfg.MCPServers, ServerKey)
	return Save(path, cfg)
}

// Check inspects the registration at path
func Check(path string) (*Status, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	status := &Status{ConfigPath: path}
	entry, ok := cfg.MCPServers[ServerKey]
	if !ok {
		status.Issues = append(status.Issues, "server is not registered")
		return status, nil
	}
	status.Registered = true
	status.Entry = entry

	info, err := os.Stat(entry.Command)
	switch {
	case err != nil:
		status.Issues = append(status.Issues, fmt.Sprintf("server binary not found: %s", entry.Command))
	case runtime.GOOS != "windows" && info.Mode()&0o111 == 0:
		status.Issues = append(status.Issues, fmt.Sprintf("server binary is not executable: %s", entry.Command))
	}
	if len(entry.Args) == 2 {
		if _, err := os.Stat(entry.Args[1]); err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("config file not found: %s", entry.Args[1]))
		}
	}
	return status, nil
}

// FindBinary looks for the MCP server next to the running executable, then in PATH and ./bin
func FindBinary() (string, error) {
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), BinaryName))
	}
	if path, err := exec.LookPath(BinaryName); err == nil {
		candidates = append(candidates, path)
	}
	candidates = append(candidates, filepath.Join("bin", BinaryName), filepath.Join("build", BinaryName))

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("binary %q not found; pass --binary", BinaryName)
}
