package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/ImagePipe/internal/models"
)

// scanRecords reads all generation records from the result set.
func scanRecords(rows *sql.Rows) ([]models.GenerationRecord, error) {
	var out []models.GenerationRecord
	for rows.Next() {
		var rec models.GenerationRecord
		var operation, status string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &operation, &rec.Prompt,
			&status, &rec.OutputPath, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan generation record: %w", err)
		}
		rec.Operation = models.OperationKind(operation)
		rec.Status = models.RecordStatus(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate generation records: %w", err)
	}
	return out, nil
}
