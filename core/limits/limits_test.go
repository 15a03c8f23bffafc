package limits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/infra/logger"
)

func TestMergeScenario(t *testing.T) {
	res := Merge([]model.InverterControlLimit{
		{Source: model.SourceFixed, ExportLimitW: model.Ptr(5000.0)},
		{Source: model.SourceNegativePrice, ExportLimitW: model.Ptr(0.0)},
		{Source: model.SourceTwoWayTariff},
	})
	require.NotNil(t, res.Limit.ExportLimitW)
	assert.Equal(t, 0.0, *res.Limit.ExportLimitW)
	assert.Equal(t, []model.LimitSource{model.SourceNegativePrice}, res.Constrainers[model.FieldExportLimit])
	assert.Nil(t, res.Limit.GenerationLimitW, "field with no sources stays undefined")
	assert.Equal(t, model.SourceAggregate, res.Limit.Source)
}

func TestMergeMinimumPerField(t *testing.T) {
	res := Merge([]model.InverterControlLimit{
		{Source: model.SourceCSIP, ExportLimitW: model.Ptr(3000.0), GenerationLimitW: model.Ptr(8000.0)},
		{Source: model.SourceFixed, ExportLimitW: model.Ptr(3000.0), ImportLimitW: model.Ptr(100.0)},
		{Source: model.SourceMQTT, GenerationLimitW: model.Ptr(6000.0)},
	})
	assert.Equal(t, 3000.0, *res.Limit.ExportLimitW)
	assert.Equal(t, 6000.0, *res.Limit.GenerationLimitW)
	assert.Equal(t, 100.0, *res.Limit.ImportLimitW)
	assert.ElementsMatch(t, []model.LimitSource{model.SourceCSIP, model.SourceFixed}, res.Constrainers[model.FieldExportLimit])
	assert.Equal(t, []model.LimitSource{model.SourceMQTT}, res.Constrainers[model.FieldGenerationLimit])
}

func TestMergeBooleansFalseWins(t *testing.T) {
	res := Merge([]model.InverterControlLimit{
		{Source: model.SourceCSIP, Connect: model.Ptr(true), Energize: model.Ptr(true)},
		{Source: model.SourceFixed, Connect: model.Ptr(false)},
		{Source: model.SourceMQTT},
	})
	require.NotNil(t, res.Limit.Connect)
	assert.False(t, *res.Limit.Connect)
	require.NotNil(t, res.Limit.Energize)
	assert.True(t, *res.Limit.Energize)

	empty := Merge([]model.InverterControlLimit{{Source: model.SourceFixed}})
	assert.Nil(t, empty.Limit.Connect)
	assert.Empty(t, empty.Constrainers)
}

func TestMergeNoPartials(t *testing.T) {
	res := Merge(nil)
	assert.Equal(t, model.FieldSet(0), res.Limit.Fields())
}

type staticSource struct {
	name  model.LimitSource
	limit model.InverterControlLimit
	err   error
}

func (s staticSource) Name() model.LimitSource { return s.name }

func (s staticSource) Limit(context.Context, time.Time) (model.InverterControlLimit, error) {
	return s.limit, s.err
}

func TestCollectSkipsFailingSources(t *testing.T) {
	before := testutil.ToFloat64(sourceErrors.WithLabelValues("negative_price"))
	sources := []Source{
		staticSource{name: model.SourceFixed, limit: model.InverterControlLimit{ExportLimitW: model.Ptr(5000.0)}},
		staticSource{name: model.SourceNegativePrice, err: errors.New("stale price")},
	}
	partials := Collect(context.Background(), time.Now(), sources, logger.NopLogger{})
	require.Len(t, partials, 1)
	assert.Equal(t, model.SourceFixed, partials[0].Source, "source name is filled in")
	after := testutil.ToFloat64(sourceErrors.WithLabelValues("negative_price"))
	assert.Equal(t, before+1, after)

	res := Merge(partials)
	assert.Equal(t, 5000.0, *res.Limit.ExportLimitW)
}
