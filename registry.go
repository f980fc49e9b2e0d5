package espresso

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	RegistryFileName = "espresso_simulations.json"
	DiscoveryTimeout = 5 * time.Second
)

var ErrSimulationNotFound = errors.New("simulation not found")

// SimulationRegistry manages coordinator discovery via a JSON file:
// a coordinator registers its endpoint under a simulation name, and
// compute nodes started independently look it up.
type SimulationRegistry struct {
	mu          sync.RWMutex
	simulations map[string]SimulationInfo
	filePath    string
}

// SimulationInfo holds one coordinator registration
type SimulationInfo struct {
	Endpoint  string    `json:"endpoint"`
	PID       int       `json:"pid"`
	StartTime time.Time `json:"start_time"`
}

// registrySingleton is the global registry instance
var registrySingleton *SimulationRegistry
var registryOnce sync.Once

// getRegistry returns the singleton registry instance
func getRegistry() *SimulationRegistry {
	registryOnce.Do(func() {
		registrySingleton = &SimulationRegistry{
			simulations: make(map[string]SimulationInfo),
			filePath:    getRegistryPath(),
		}
		registrySingleton.load()
	})
	return registrySingleton
}

// getRegistryPath returns the path to the registry file
func getRegistryPath() string {
	// Use temp directory for cross-platform compatibility
	tmpDir := os.TempDir()
	return filepath.Join(tmpDir, RegistryFileName)
}

// load reads the registry from disk
func (r *SimulationRegistry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist yet
		}
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Unmarshal(data, &r.simulations)
}

// save writes the registry to disk
func (r *SimulationRegistry) save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := json.MarshalIndent(r.simulations, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(r.filePath, data, 0644)
}

// Register records a coordinator endpoint under a simulation name
func Register(simulation string, endpoint string) error {
	r := getRegistry()

	r.mu.Lock()
	r.simulations[simulation] = SimulationInfo{
		Endpoint:  endpoint,
		PID:       os.Getpid(),
		StartTime: time.Now(),
	}
	r.mu.Unlock()

	return r.save()
}

// Unregister removes a simulation from the registry
func Unregister(simulation string) error {
	r := getRegistry()

	r.mu.Lock()
	delete(r.simulations, simulation)
	r.mu.Unlock()

	return r.save()
}

// Discover finds a simulation by name and returns its coordinator
// endpoint, polling the registry file until the deadline.
func Discover(simulation string, timeout time.Duration) (string, error) {
	if timeout == 0 {
		timeout = DiscoveryTimeout
	}

	r := getRegistry()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		// Reload from disk to get latest
		if err := r.load(); err != nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		r.mu.RLock()
		info, exists := r.simulations[simulation]
		r.mu.RUnlock()

		if exists {
			// Check if the coordinator process is still alive
			if isProcessAlive(info.PID) {
				return info.Endpoint, nil
			}
			// Process dead, clean up
			_ = Unregister(simulation)
		}

		time.Sleep(100 * time.Millisecond)
	}

	return "", ErrSimulationNotFound
}

// isProcessAlive checks if a process with the given PID is running
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Windows, FindProcess always succeeds, so we need to check differently
	// On Unix, sending signal 0 checks if process exists
	return proc != nil
}

// ListSimulations returns all registered simulations
func ListSimulations() (map[string]SimulationInfo, error) {
	r := getRegistry()
	if err := r.load(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Return a copy
	result := make(map[string]SimulationInfo)
	for k, v := range r.simulations {
		result[k] = v
	}
	return result, nil
}

// ClearRegistry removes all simulations from the registry
func ClearRegistry() error {
	r := getRegistry()

	r.mu.Lock()
	r.simulations = make(map[string]SimulationInfo)
	r.mu.Unlock()

	return r.save()
}

// GetRegistryPath returns the current registry file path (for debugging)
func GetRegistryPath() string {
	return getRegistryPath()
}

// ValidatePort checks if a port is in valid range
func ValidatePort(port int) error {
	if port < 1024 || port > 65535 {
		return fmt.Errorf("port %d out of valid range (1024-65535)", port)
	}
	return nil
}
