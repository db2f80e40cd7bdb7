package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHelpers(t *testing.T) {
	m := DefaultMetrics

	before := testutil.ToFloat64(m.SwipesTotal.WithLabelValues("like"))
	RecordSwipe("like")
	assert.Equal(t, before+1, testutil.ToFloat64(m.SwipesTotal.WithLabelValues("like")))

	UpdateDeckSize(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(m.CandidatesInDeck))

	subs := testutil.ToFloat64(m.ActiveSubscriptions)
	AddActiveSubscriptions(2)
	AddActiveSubscriptions(-1)
	assert.Equal(t, subs+1, testutil.ToFloat64(m.ActiveSubscriptions))

	errs := testutil.ToFloat64(m.DBQueryErrors.WithLabelValues("memory", "probe"))
	RecordDBQuery("memory", "probe", 0.01, nil)
	RecordDBQuery("memory", "probe", 0.01, errors.New("boom"))
	assert.Equal(t, errs+1, testutil.ToFloat64(m.DBQueryErrors.WithLabelValues("memory", "probe")))
}

func TestHandler(t *testing.T) {
	RecordUndo()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "discover_swipe_undos_total"), "undo counter exported")
}
