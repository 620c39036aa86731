package poller

import (
	"github.com/gluk-w/flowwatch/internal/database"
	"github.com/gluk-w/flowwatch/internal/remotedb"
	"gorm.io/datatypes"
)

func toCacheRows(instanceID string, remote []remotedb.Execution) []database.Execution {
	rows := make([]database.Execution, len(remote))
	for i := range remote {
		e := &remote[i]
		row := database.Execution{
			InstanceID:      instanceID,
			ExecutionID:     e.ID,
			WorkflowID:      e.WorkflowID,
			WorkflowName:    e.WorkflowName,
			Status:          string(e.Status),
			Finished:        e.Finished,
			Mode:            e.Mode,
			StartedAt:       e.StartedAt,
			StoppedAt:       e.StoppedAt,
			DurationMs:      e.Duration(),
			NodeCount:       remotedb.CountNodes(e.WorkflowData),
			ExecutionData:   datatypes.JSON(e.Data),
			WorkflowData:    datatypes.JSON(e.WorkflowData),
			RemoteCreatedAt: e.CreatedAt,
		}
		if e.Status == remotedb.StatusError {
			row.ErrorMessage = remotedb.ParseExecutionData(e.Data)
		}
		rows[i] = row
	}
	return rows
}
