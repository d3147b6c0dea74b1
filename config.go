package retropricer

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Deployment is the YAML deployment configuration shared by the
// binaries. It names the shell generation to install and where cache
// generations are stored.
type Deployment struct {
	// Version is the cache generation label for this deployment.
	Version string `yaml:"version"`
	// Shell lists the paths snapshotted at install time.
	Shell []string `yaml:"shell"`
	// DynamicPrefixes lists the path prefixes always fetched from the
	// network.
	DynamicPrefixes []string `yaml:"dynamicPrefixes"`
	// Provider selects the cache store backend: sqlite, badger or
	// memory.
	Provider string `yaml:"provider"`
	// CacheFile is the cache store location, a database file for
	// sqlite or a directory for badger.
	CacheFile string `yaml:"cacheFile"`
}

// LoadDeployment reads the deployment configuration from a YAML file.
func LoadDeployment(filename string) (Deployment, error) {
	var deployment Deployment
	bts, err := os.ReadFile(filename)
	if err != nil {
		return deployment, err
	}
	if err := yaml.Unmarshal(bts, &deployment); err != nil {
		return deployment, err
	}
	return deployment, nil
}
