package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordVoiceOp(t *testing.T) {
	okBefore := testutil.ToFloat64(VoiceOperations.WithLabelValues("join", "ok"))
	errBefore := testutil.ToFloat64(VoiceOperations.WithLabelValues("join", "error"))

	RecordVoiceOp("join", nil)
	RecordVoiceOp("join", errors.New("boom"))
	RecordVoiceOp("join", nil)

	assert.Equal(t, okBefore+2, testutil.ToFloat64(VoiceOperations.WithLabelValues("join", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(VoiceOperations.WithLabelValues("join", "error")))
}

func TestRecordProviderCall(t *testing.T) {
	RecordProviderCall("create_room", time.Now().Add(-20*time.Millisecond))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(ProviderRequestDuration), 1)
}
