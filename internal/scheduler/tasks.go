package scheduler

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hibiken/asynq"
)

const TaskOutreachDispatch = "outreach.dispatch"

const TaskPurchaseSync = "reconcile.purchase_sync"

const dateLayout = "2006-01-02"

type OutreachDispatchPayload struct {
	ScheduledAt time.Time `json:"scheduledAt"`
}

type PurchaseSyncPayload struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// Range parses the payload dates.
func (p PurchaseSyncPayload) Range() (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, p.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", p.StartDate, err)
	}
	end, err := time.Parse(dateLayout, p.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", p.EndDate, err)
	}
	return start, end, nil
}

func NewOutreachDispatchTask(payload OutreachDispatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutreachDispatch, data), nil
}

func ParseOutreachDispatchPayload(task *asynq.Task) (OutreachDispatchPayload, error) {
	var payload OutreachDispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OutreachDispatchPayload{}, err
	}
	return payload, nil
}

func NewPurchaseSyncTask(payload PurchaseSyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPurchaseSync, data), nil
}

func ParsePurchaseSyncPayload(task *asynq.Task) (PurchaseSyncPayload, error) {
	var payload PurchaseSyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return PurchaseSyncPayload{}, err
	}
	return payload, nil
}
