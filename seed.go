package main

import (
	"fmt"

	"github.com/gluk-w/flowwatch/internal/crypto"
	"github.com/gluk-w/flowwatch/internal/database"
	"github.com/gluk-w/flowwatch/internal/logutil"
	"github.com/rs/zerolog/log"
)

type releaser interface {
	Release(id string)
}

// importInstances creates or updates the instances listed in the YAML file
// at path, matching by name. Tunnels of updated instances are released so
// the next acquisition uses the new settings.
func importInstances(path string, tunnels releaser) error {
	seeds, err := database.LoadInstancesFile(path)
	if err != nil {
		return err
	}

	for _, s := range seeds {
		inst := s.Instance()
		inst.DBPassword, err = crypto.Encrypt(s.DBPassword)
		if err != nil {
			return fmt.Errorf("instance %q: %w", s.Name, err)
		}
		created, err := database.SaveInstanceByName(inst)
		if err != nil {
			return fmt.Errorf("instance %q: save: %w", s.Name, err)
		}
		if !created {
			tunnels.Release(inst.ID)
		}
		log.Info().
			Str("instance", inst.ID).
			Str("name", logutil.SanitizeForLog(inst.Name)).
			Bool("created", created).
			Msg("imported instance")
	}
	log.Info().Int("count", len(seeds)).Str("path", path).Msg("instances file imported")
	return nil
}
