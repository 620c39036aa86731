package database

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// InstanceSeed is one entry of the instances file. Passwords are plaintext in
// the file and encrypted by the caller before the instance is stored.
type InstanceSeed struct {
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	SSHHost     string `yaml:"ssh_host"`
	SSHPort     int    `yaml:"ssh_port"`
	SSHUser     string `yaml:"ssh_user"`
	SSHKeyPath  string `yaml:"ssh_key_path"`
	DBType      string `yaml:"db_type"`
	DBHost      string `yaml:"db_host"`
	DBPort      int    `yaml:"db_port"`
	DBName      string `yaml:"db_name"`
	DBUser      string `yaml:"db_user"`
	DBPassword  string `yaml:"db_password"`
	TablePrefix string `yaml:"table_prefix"`
}

type instancesFile struct {
	Instances []InstanceSeed `yaml:"instances"`
}

// LoadInstancesFile parses a YAML document of the form
//
//	instances:
//	  - name: prod
//	    ssh_host: bastion.example.com
//	    ...
func LoadInstancesFile(path string) ([]InstanceSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instances file: %w", err)
	}
	var f instancesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse instances file: %w", err)
	}
	seen := make(map[string]bool, len(f.Instances))
	for i, s := range f.Instances {
		if s.Name == "" {
			return nil, fmt.Errorf("instances[%d]: name is required", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("instances[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.SSHHost == "" || s.SSHUser == "" || s.SSHKeyPath == "" {
			return nil, fmt.Errorf("instance %q: ssh_host, ssh_user and ssh_key_path are required", s.Name)
		}
	}
	return f.Instances, nil
}

// Instance converts the seed to a model, leaving DBPassword empty.
func (s InstanceSeed) Instance() *Instance {
	inst := &Instance{
		Name:        s.Name,
		URL:         s.URL,
		SSHHost:     s.SSHHost,
		SSHPort:     s.SSHPort,
		SSHUser:     s.SSHUser,
		SSHKeyPath:  s.SSHKeyPath,
		DBType:      s.DBType,
		DBHost:      s.DBHost,
		DBPort:      s.DBPort,
		DBName:      s.DBName,
		DBUser:      s.DBUser,
		TablePrefix: s.TablePrefix,
	}
	inst.ApplyDefaults()
	return inst
}
