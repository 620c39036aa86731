package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gluk-w/flowwatch/internal/crypto"
	"github.com/gluk-w/flowwatch/internal/database"
	"github.com/gluk-w/flowwatch/internal/logutil"
	"github.com/gluk-w/flowwatch/internal/sshproxy"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// instanceRequest is the body of create and update calls. On update, zero
// values keep the stored field; DBPassword and TablePrefix are pointers so
// they can be cleared explicitly.
type instanceRequest struct {
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	SSHHost     string  `json:"ssh_host"`
	SSHPort     int     `json:"ssh_port"`
	SSHUser     string  `json:"ssh_user"`
	SSHKeyPath  string  `json:"ssh_key_path"`
	DBType      string  `json:"db_type"`
	DBHost      string  `json:"db_host"`
	DBPort      int     `json:"db_port"`
	DBName      string  `json:"db_name"`
	DBUser      string  `json:"db_user"`
	DBPassword  *string `json:"db_password"`
	TablePrefix *string `json:"table_prefix"`
}

type instanceResponse struct {
	database.Instance
	DBPassword string               `json:"db_password"` // masked
	SyncStatus *database.SyncStatus `json:"sync_status"`
}

func (req *instanceRequest) apply(inst *database.Instance) error {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&inst.Name, req.Name)
	set(&inst.URL, req.URL)
	set(&inst.SSHHost, req.SSHHost)
	set(&inst.SSHUser, req.SSHUser)
	set(&inst.SSHKeyPath, req.SSHKeyPath)
	set(&inst.DBType, req.DBType)
	set(&inst.DBHost, req.DBHost)
	set(&inst.DBName, req.DBName)
	set(&inst.DBUser, req.DBUser)
	if req.SSHPort != 0 {
		inst.SSHPort = req.SSHPort
	}
	if req.DBPort != 0 {
		inst.DBPort = req.DBPort
	}
	if req.TablePrefix != nil {
		inst.TablePrefix = strings.TrimSpace(*req.TablePrefix)
	}
	if req.DBPassword != nil {
		enc, err := crypto.Encrypt(*req.DBPassword)
		if err != nil {
			return fmt.Errorf("encrypt password: %w", err)
		}
		inst.DBPassword = enc
	}
	inst.ApplyDefaults()
	return nil
}

func validateInstance(inst *database.Instance) string {
	switch {
	case inst.Name == "":
		return "name is required"
	case inst.SSHHost == "" || inst.SSHUser == "" || inst.SSHKeyPath == "":
		return "ssh_host, ssh_user and ssh_key_path are required"
	case inst.DBName == "" || inst.DBUser == "":
		return "db_name and db_user are required"
	case inst.DBType != database.DBTypePostgres && inst.DBType != database.DBTypeMySQL:
		return fmt.Sprintf("db_type must be %q or %q", database.DBTypePostgres, database.DBTypeMySQL)
	case inst.SSHPort < 1 || inst.SSHPort > 65535 || inst.DBPort < 1 || inst.DBPort > 65535:
		return "ports must be between 1 and 65535"
	}
	return ""
}

func toResponse(inst database.Instance, status *database.SyncStatus) instanceResponse {
	masked := ""
	if inst.DBPassword != "" {
		if plain, err := crypto.Decrypt(inst.DBPassword); err == nil {
			masked = crypto.Mask(plain)
		} else {
			masked = "****"
		}
	}
	return instanceResponse{Instance: inst, DBPassword: masked, SyncStatus: status}
}

// loadInstance writes a 404 or 500 and returns nil when the instance named
// by the {id} URL parameter cannot be loaded.
func loadInstance(w http.ResponseWriter, r *http.Request) *database.Instance {
	inst, err := database.GetInstance(chi.URLParam(r, "id"))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Instance not found")
		return nil
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load instance")
		return nil
	}
	return inst
}

func ListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := database.ListInstances()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list instances")
		return
	}
	statuses, err := database.ListSyncStatuses()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load sync status")
		return
	}

	out := make([]instanceResponse, 0, len(instances))
	for _, inst := range instances {
		var status *database.SyncStatus
		if s, ok := statuses[inst.ID]; ok {
			status = &s
		}
		out = append(out, toResponse(inst, status))
	}
	writeJSON(w, http.StatusOK, out)
}

func GetInstance(w http.ResponseWriter, r *http.Request) {
	inst := loadInstance(w, r)
	if inst == nil {
		return
	}
	status, err := database.GetSyncStatus(inst.ID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "Failed to load sync status")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(*inst, status))
}

func CreateInstance(w http.ResponseWriter, r *http.Request) {
	var body instanceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	inst := &database.Instance{}
	if err := body.apply(inst); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encrypt password")
		return
	}
	if msg := validateInstance(inst); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if taken, err := database.NameTaken(inst.Name, ""); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create instance")
		return
	} else if taken {
		writeError(w, http.StatusConflict, "An instance with this name already exists")
		return
	}

	if err := database.CreateInstance(inst); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create instance")
		return
	}
	log.Info().Str("instance", inst.ID).Str("name", logutil.SanitizeForLog(inst.Name)).Msg("instance created")
	writeJSON(w, http.StatusCreated, toResponse(*inst, nil))
}

func UpdateInstance(w http.ResponseWriter, r *http.Request) {
	inst := loadInstance(w, r)
	if inst == nil {
		return
	}
	before := *inst

	var body instanceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := body.apply(inst); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encrypt password")
		return
	}
	if msg := validateInstance(inst); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if inst.Name != before.Name {
		if taken, err := database.NameTaken(inst.Name, inst.ID); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to update instance")
			return
		} else if taken {
			writeError(w, http.StatusConflict, "An instance with this name already exists")
			return
		}
	}

	if err := database.UpdateInstance(inst); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update instance")
		return
	}
	// Fernet tokens differ per call, so resending the same password also
	// releases the tunnel.
	if database.ConnectionChanged(&before, inst) && Tunnels != nil {
		Tunnels.Release(inst.ID)
	}

	status, err := database.GetSyncStatus(inst.ID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "Failed to load sync status")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(*inst, status))
}

func DeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := database.DeleteInstance(id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Instance not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete instance")
		return
	}
	if Tunnels != nil {
		Tunnels.Release(id)
	}
	log.Info().Str("instance", logutil.SanitizeForLog(id)).Msg("instance deleted")
	w.WriteHeader(http.StatusNoContent)
}

// TestInstance probes the instance's SSH tunnel and database without
// touching the shared tunnel registry.
func TestInstance(w http.ResponseWriter, r *http.Request) {
	inst := loadInstance(w, r)
	if inst == nil {
		return
	}
	if Tunnels == nil {
		writeError(w, http.StatusServiceUnavailable, "Tunnel manager not initialized")
		return
	}
	target, err := sshproxy.TargetFromInstance(inst)
	if err != nil {
		writeJSON(w, http.StatusOK, sshproxy.ProbeResult{Error: logutil.ErrorText(err)})
		return
	}
	writeJSON(w, http.StatusOK, Tunnels.Probe(r.Context(), target))
}
