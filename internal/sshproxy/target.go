// Package sshproxy maintains SSH tunnels to remote instances and the database
// pools bound to them.
//
// A tunnel is an SSH connection, a listener on 127.0.0.1 that forwards each
// accepted connection through the SSH connection to the instance's database
// endpoint, and a connection pool pointed at that listener. The Registry owns
// live tunnels and evicts them after an idle window. The Manager creates them
// on demand, at most one per instance at a time, and Probe builds a
// throwaway tunnel to validate credentials.
package sshproxy

import (
	"fmt"
	"net"
	"strconv"

	"github.com/gluk-w/flowwatch/internal/crypto"
	"github.com/gluk-w/flowwatch/internal/database"
	"github.com/gluk-w/flowwatch/internal/remotedb"
)

// Target holds everything needed to reach one instance's database.
type Target struct {
	InstanceID string
	SSHHost    string
	SSHPort    int
	SSHUser    string
	SSHKeyPath string
	DB         remotedb.Params
}

// TargetFromInstance builds a Target from a stored instance, decrypting its
// database password.
func TargetFromInstance(inst *database.Instance) (Target, error) {
	password, err := crypto.Decrypt(inst.DBPassword)
	if err != nil {
		return Target{}, fmt.Errorf("decrypt password for instance %s: %w", inst.ID, err)
	}
	return Target{
		InstanceID: inst.ID,
		SSHHost:    inst.SSHHost,
		SSHPort:    inst.SSHPort,
		SSHUser:    inst.SSHUser,
		SSHKeyPath: inst.SSHKeyPath,
		DB: remotedb.Params{
			Type:     inst.DBType,
			Host:     inst.DBHost,
			Port:     inst.DBPort,
			Name:     inst.DBName,
			User:     inst.DBUser,
			Password: password,
		},
	}, nil
}

func (t Target) sshAddr() string {
	return net.JoinHostPort(t.SSHHost, strconv.Itoa(t.SSHPort))
}

// dbAddr is the database endpoint as seen from the SSH host.
func (t Target) dbAddr() string {
	return net.JoinHostPort(t.DB.Host, strconv.Itoa(t.DB.Port))
}
