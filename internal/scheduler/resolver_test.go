package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monque/monque/internal/models"
)

func TestResolver_OnSuccessNonRecurringCompletes(t *testing.T) {
	r := &resolver{maxRetries: 5, baseRetryInterval: time.Second}
	job := &models.Job{ID: "j1", Name: "emails"}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	write, err := r.onSuccess(job, now)
	require.NoError(t, err)
	assert.False(t, write.Recurring, "a job without a RepeatInterval should not recur")
	assert.Equal(t, now, write.Now)
}

func TestResolver_OnSuccessRecurringComputesNextRun(t *testing.T) {
	r := &resolver{maxRetries: 5, baseRetryInterval: time.Second}
	job := &models.Job{ID: "j1", Name: "reports", RepeatInterval: "0 * * * *"}
	now := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)

	write, err := r.onSuccess(job, now)
	require.NoError(t, err)
	assert.True(t, write.Recurring)
	assert.True(t, write.NextRunAt.After(now), "next occurrence must be after now")
	assert.Equal(t, now.Truncate(time.Hour).Add(time.Hour), write.NextRunAt)
}

func TestResolver_OnSuccessInvalidCronReturnsError(t *testing.T) {
	r := &resolver{maxRetries: 5, baseRetryInterval: time.Second}
	job := &models.Job{ID: "j1", Name: "reports", RepeatInterval: "not a cron expr"}

	_, err := r.onSuccess(job, time.Now())
	assert.Error(t, err, "an unparseable cron expression must surface as an error")
}

func TestResolver_OnFailureRetriesBelowMaxRetries(t *testing.T) {
	r := &resolver{maxRetries: 5, baseRetryInterval: time.Second}
	job := &models.Job{ID: "j1", FailCount: 1}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	write := r.onFailure(job, errors.New("boom"), now)

	assert.False(t, write.Permanent, "failure count below maxRetries should not be permanent")
	assert.Equal(t, 2, write.FailCount)
	assert.Equal(t, "boom", write.FailReason)
	assert.True(t, write.NextRunAt.After(now), "a retried job must be scheduled in the future")
}

func TestResolver_OnFailureExhaustsRetriesBecomesPermanent(t *testing.T) {
	r := &resolver{maxRetries: 3, baseRetryInterval: time.Second}
	job := &models.Job{ID: "j1", FailCount: 2}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	write := r.onFailure(job, errors.New("boom"), now)

	assert.True(t, write.Permanent, "the maxRetries-th failure should be permanent")
	assert.Equal(t, 3, write.FailCount)
	assert.True(t, write.NextRunAt.IsZero(), "a permanently failed job has no next run")
}

func TestResolver_OnFailureBackoffGrowsExponentially(t *testing.T) {
	r := &resolver{maxRetries: 100, baseRetryInterval: time.Second}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := r.onFailure(&models.Job{FailCount: 0}, errors.New("e"), now)
	second := r.onFailure(&models.Job{FailCount: 1}, errors.New("e"), now)

	firstDelay := first.NextRunAt.Sub(now)
	secondDelay := second.NextRunAt.Sub(now)
	assert.Greater(t, secondDelay, firstDelay, "backoff delay should grow with the failure count")
}

func TestResolver_OnFailureRespectsBackoffCap(t *testing.T) {
	r := &resolver{maxRetries: 100, baseRetryInterval: time.Second, maxBackoffDelay: 10 * time.Second}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	write := r.onFailure(&models.Job{FailCount: 49}, errors.New("e"), now)

	assert.LessOrEqual(t, write.NextRunAt.Sub(now), 10*time.Second, "backoff must never exceed the configured cap")
}

func TestResolver_OnFailureLongReasonIsTruncated(t *testing.T) {
	r := &resolver{maxRetries: 5, baseRetryInterval: time.Second}
	huge := make([]byte, 5000)
	for i := range huge {
		huge[i] = 'x'
	}

	write := r.onFailure(&models.Job{}, errors.New(string(huge)), time.Now())

	assert.Less(t, len(write.FailReason), 5000, "an oversized handler error message must be truncated")
}
