package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/turbine-data/adsync/internal/platform"
)

// Insights submits an asynchronous insights report for the account.
func (a *Account) Insights(ctx context.Context, params platform.InsightsParams) (platform.ReportJob, error) {
	form := url.Values{}
	form.Set("level", params.Level)
	if params.TimeIncrement > 0 {
		form.Set("time_increment", strconv.Itoa(params.TimeIncrement))
	}
	if params.Limit > 0 {
		form.Set("limit", strconv.Itoa(params.Limit))
	}
	if err := setJSON(form, "fields", params.Fields); err != nil {
		return nil, err
	}
	if err := setJSON(form, "breakdowns", params.Breakdowns); err != nil {
		return nil, err
	}
	if err := setJSON(form, "action_breakdowns", params.ActionBreakdowns); err != nil {
		return nil, err
	}
	if err := setJSON(form, "action_attribution_windows", params.ActionAttributionWindows); err != nil {
		return nil, err
	}
	if len(params.TimeRanges) > 0 {
		ranges, err := json.Marshal(params.TimeRanges)
		if err != nil {
			return nil, err
		}
		form.Set("time_ranges", string(ranges))
	}

	resp, err := a.client.post(ctx, fmt.Sprintf("/act_%s/insights", a.id), form)
	if err != nil {
		return nil, err
	}

	runID, ok := resp["report_run_id"].(string)
	if !ok || runID == "" {
		raw, _ := json.Marshal(resp)
		return nil, &platform.MalformedResponseError{Raw: truncate(string(raw), 512)}
	}

	a.client.logger.Debug("report job submitted",
		zap.String("account_id", a.id),
		zap.String("report_run_id", runID),
	)
	return &reportRun{client: a.client, id: runID}, nil
}

func setJSON(form url.Values, key string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return err
	}
	form.Set(key, string(encoded))
	return nil
}

// reportRun is a submitted async report, addressed by its run ID.
type reportRun struct {
	client *Client
	id     string
}

func (r *reportRun) ID() string {
	return r.id
}

func (r *reportRun) Refresh(ctx context.Context) (platform.JobStatus, int, error) {
	resp, err := r.client.get(ctx, "/"+r.id, nil)
	if err != nil {
		return "", 0, err
	}

	remote, _ := resp["async_status"].(string)
	percent := intField(resp, "async_percent_completion")

	status, err := jobStatus(remote)
	if err != nil {
		return "", percent, err
	}
	return status, percent, nil
}

func jobStatus(remote string) (platform.JobStatus, error) {
	switch remote {
	case "Job Completed":
		return platform.JobCompleted, nil
	case "Job Not Started":
		return platform.JobCreated, nil
	case "Job Started", "Job Running":
		return platform.JobRunning, nil
	case "Job Failed", "Job Skipped":
		return platform.JobFailed, nil
	default:
		return "", fmt.Errorf("unrecognized report job status %q", remote)
	}
}

func (r *reportRun) Results(ctx context.Context) (platform.Cursor, error) {
	return newPageCursor(r.client, "/"+r.id+"/insights", url.Values{}), nil
}

var _ platform.ReportJob = (*reportRun)(nil)
