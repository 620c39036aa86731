package sshkeys

import (
	"net"

	"github.com/gluk-w/flowwatch/internal/logutil"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Fingerprint returns the SHA256 fingerprint (SHA256:xxx) of a public key.
func Fingerprint(key ssh.PublicKey) string {
	return ssh.FingerprintSHA256(key)
}

// LoggingHostKeyCallback accepts any host key and logs its fingerprint at
// debug level. Instances are addressed by operator-configured hosts and no
// known_hosts store is kept.
func LoggingHostKeyCallback(instanceID string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		log.Debug().
			Str("instance", logutil.SanitizeForLog(instanceID)).
			Str("host", logutil.SanitizeForLog(hostname)).
			Str("fingerprint", Fingerprint(key)).
			Msg("ssh host key")
		return nil
	}
}
