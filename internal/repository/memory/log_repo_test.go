package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func TestLogRepo_CapacityKeepsNewest(t *testing.T) {
	t.Parallel()
	r := NewLogRepo(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, r.InsertRequest(ctx, model.RequestLog{RequestID: fmt.Sprint(i), StatusCode: 200}))
	}
	list, err := r.ListRequests(ctx, model.LogFilter{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "4", list[0].RequestID)
	require.Equal(t, "2", list[2].RequestID)
}

func TestLogRepo_FiltersAndStats(t *testing.T) {
	t.Parallel()
	r := NewLogRepo(0)
	ctx := context.Background()
	uid := uuid.Must(uuid.NewV4())
	old := time.Now().Add(-48 * time.Hour)

	require.NoError(t, r.InsertRequest(ctx, model.RequestLog{UserID: &uid, StatusCode: 200, BusinessType: "restaurant", DurationMS: 100}))
	require.NoError(t, r.InsertRequest(ctx, model.RequestLog{UserID: &uid, StatusCode: 200, BusinessType: "retail", DurationMS: 300}))
	require.NoError(t, r.InsertRequest(ctx, model.RequestLog{StatusCode: 401, ErrorCode: errs.CodeAuthenticationRequired}))
	require.NoError(t, r.InsertRequest(ctx, model.RequestLog{StatusCode: 200, BusinessType: "retail", CreatedAt: old}))

	mine, _ := r.ListRequests(ctx, model.LogFilter{UserID: &uid})
	require.Len(t, mine, 2)

	st, err := r.RequestStats(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 3, st.Total)
	require.EqualValues(t, 2, st.Succeeded)
	require.EqualValues(t, 1, st.Failed)
	require.InDelta(t, 133.33, st.AvgDurationMS, 0.01)
	require.EqualValues(t, 1, st.ByBusinessType["retail"])
	require.EqualValues(t, 1, st.ByStatus[401])

	require.NoError(t, r.InsertSystem(ctx, model.SystemLog{Level: "warn", Message: "a"}))
	require.NoError(t, r.InsertSystem(ctx, model.SystemLog{Level: "error", Message: "b"}))
	errsOnly, _ := r.ListSystem(ctx, model.LogFilter{Level: "error"})
	require.Len(t, errsOnly, 1)
	require.Equal(t, "b", errsOnly[0].Message)
}

func TestLogRepo_Clear(t *testing.T) {
	t.Parallel()
	r := NewLogRepo(0)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	require.NoError(t, r.InsertRequest(ctx, model.RequestLog{CreatedAt: old}))
	require.NoError(t, r.InsertRequest(ctx, model.RequestLog{}))
	require.NoError(t, r.InsertSystem(ctx, model.SystemLog{CreatedAt: old}))

	n, err := r.Clear(ctx, model.LogKindRequest, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = r.Clear(ctx, model.LogKindAll, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	_, err = r.Clear(ctx, "nope", time.Now())
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}
