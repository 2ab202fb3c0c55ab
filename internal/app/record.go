package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rtcdoctor/internal/probe"
	"rtcdoctor/internal/progress"
	"rtcdoctor/internal/storage"
	"rtcdoctor/internal/storage/models"
	"rtcdoctor/internal/troubleshoot"
	pkgerrors "rtcdoctor/pkg/errors"
)

func newRunModel(ts *troubleshoot.Troubleshooter, trigger string) *models.Run {
	if trigger == "" {
		trigger = models.TriggerCLI
	}
	return &models.Run{
		ID:        ts.ID(),
		Trigger:   trigger,
		Status:    models.RunRunning,
		Plan:      strings.Join(ts.Plan(), ","),
		Progress:  mustJSON(ts.Progress().Snapshot()),
		StartedAt: time.Now(),
	}
}

// saveReport finishes run and stores every probe outcome in one
// transaction.
func saveReport(ctx context.Context, store storage.Storage, run *models.Run, rep troubleshoot.Report) (err error) {
	run.Status = models.RunPassed
	run.ErrorKind, run.ErrorMessage = "", ""
	if rep.Err != nil {
		run.Status = models.RunFailed
		run.ErrorKind = string(pkgerrors.KindOf(rep.Err))
		run.ErrorMessage = rep.Err.Error()
	}
	run.IntegrationTestMode = rep.IntegrationTestMode
	run.Plan = strings.Join(rep.Plan, ",")
	run.Devices = mustJSON(rep.Devices)
	run.Progress = mustJSON(rep.Progress)
	finished := rep.FinishedAt
	run.FinishedAt = &finished

	tx, err := store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = tx.FinishRun(ctx, run); err != nil {
		return err
	}
	for i, rec := range rep.Records() {
		pr := &models.ProbeResult{
			RunID:        run.ID,
			Position:     i,
			Name:         rec.Name,
			Status:       string(rec.Status),
			Kind:         string(rec.Kind),
			ErrorMessage: rec.Error,
			Payload:      optionalJSON(rec.Payload),
			Detail:       optionalJSON(rec.Detail),
			DurationMS:   rec.DurationMS,
		}
		if err = tx.RecordProbeResult(ctx, pr); err != nil {
			return err
		}
	}
	if err = tx.SetSetting(ctx, storage.SettingLastRunID, run.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadView rebuilds the report view of a stored run. Payloads come back
// as generic JSON values.
func LoadView(ctx context.Context, store storage.Storage, id string) (troubleshoot.View, error) {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return troubleshoot.View{}, err
	}
	results, err := store.GetProbeResults(ctx, id)
	if err != nil {
		return troubleshoot.View{}, err
	}

	v := troubleshoot.View{
		RunID:               run.ID,
		StartedAt:           run.StartedAt,
		Passed:              run.Status == models.RunPassed,
		Kind:                pkgerrors.Kind(run.ErrorKind),
		Error:               run.ErrorMessage,
		IntegrationTestMode: run.IntegrationTestMode,
		Results:             make([]troubleshoot.Record, 0, len(results)),
	}
	if run.FinishedAt != nil {
		v.FinishedAt = *run.FinishedAt
	}
	if err := json.Unmarshal([]byte(run.Devices), &v.Devices); err != nil {
		return v, fmt.Errorf("run %s devices: %w", id, err)
	}
	if err := json.Unmarshal([]byte(run.Progress), &v.Progress); err != nil {
		return v, fmt.Errorf("run %s progress: %w", id, err)
	}
	for _, pr := range results {
		v.Results = append(v.Results, troubleshoot.Record{
			Name:       pr.Name,
			Status:     probe.Status(pr.Status),
			Kind:       pkgerrors.Kind(pr.Kind),
			Error:      pr.ErrorMessage,
			Payload:    decodeJSON(pr.Payload),
			Detail:     decodeJSON(pr.Detail),
			DurationMS: pr.DurationMS,
		})
	}
	if v.Progress == nil {
		v.Progress = []progress.Item{}
	}
	return v, nil
}

// Prune deletes runs older than the retention_days setting. Zero or an
// unset value keeps everything.
func Prune(ctx context.Context, store storage.Storage) (int64, error) {
	value, err := store.GetSetting(ctx, storage.SettingRetentionDays)
	if errors.Is(err, pkgerrors.ErrSettingNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	days, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("setting %s: %w", storage.SettingRetentionDays, err)
	}
	if days <= 0 {
		return 0, nil
	}
	return store.DeleteRunsBefore(ctx, time.Now().AddDate(0, 0, -days))
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func optionalJSON(v any) string {
	if v == nil {
		return ""
	}
	return mustJSON(v)
}

func decodeJSON(s string) any {
	if s == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
