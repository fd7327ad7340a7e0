package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const jobColumns = "id, prompt, duration_seconds, style, quality, voice, status, current_stage, stage_results_json, progress, error_kind, error_message, error_stage, retry_counts_json, cancel_requested, output_path, created_at, updated_at, started_at, completed_at, last_heartbeat"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              string
		prompt          string
		durationSeconds int
		style           string
		quality         string
		voice           string
		statusStr       string
		stageStr        string
		stageResults    sql.NullString
		progress        sql.NullFloat64
		errorKind       sql.NullString
		errorMessage    sql.NullString
		errorStage      sql.NullString
		retryCounts     sql.NullString
		cancelRequested sql.NullInt64
		outputPath      sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		startedRaw      sql.NullString
		completedRaw    sql.NullString
		heartbeatRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&prompt,
		&durationSeconds,
		&style,
		&quality,
		&voice,
		&statusStr,
		&stageStr,
		&stageResults,
		&progress,
		&errorKind,
		&errorMessage,
		&errorStage,
		&retryCounts,
		&cancelRequested,
		&outputPath,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&completedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		Prompt:          prompt,
		DurationSeconds: durationSeconds,
		Style:           style,
		Quality:         quality,
		Voice:           voice,
		Status:          Status(statusStr),
		CurrentStage:    Stage(stageStr),
		Progress:        progress.Float64,
		OutputPath:      outputPath.String,
	}
	if cancelRequested.Valid {
		job.CancelRequested = cancelRequested.Int64 != 0
	}
	if errorKind.Valid || errorMessage.Valid {
		job.Error = &ErrorInfo{
			Kind:    errorKind.String,
			Message: errorMessage.String,
			Stage:   errorStage.String,
		}
	}
	if stageResults.Valid && stageResults.String != "" {
		if err := json.Unmarshal([]byte(stageResults.String), &job.StageResults); err != nil {
			return nil, err
		}
	}
	if job.StageResults == nil {
		job.StageResults = make(map[string]json.RawMessage)
	}
	if retryCounts.Valid && retryCounts.String != "" {
		if err := json.Unmarshal([]byte(retryCounts.String), &job.RetryCounts); err != nil {
			return nil, err
		}
	}
	if job.RetryCounts == nil {
		job.RetryCounts = make(map[string]int)
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			job.StartedAt = &started
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	return job, nil
}

func marshalStageResults(results map[string]json.RawMessage) (any, error) {
	if len(results) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func marshalRetryCounts(counts map[string]int) (any, error) {
	if len(counts) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(counts)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
