// Package limits merges partial inverter limits from independent sources.
package limits

import (
	"context"
	"time"

	"github.com/kilianp07/dercontrol/core/logger"
	"github.com/kilianp07/dercontrol/core/model"
)

// Source produces a partial limit on every tick. An error means the source
// has no opinion for this tick.
type Source interface {
	Name() model.LimitSource
	Limit(ctx context.Context, now time.Time) (model.InverterControlLimit, error)
}

// Result is a merged limit annotated with the sources that constrain each
// field.
type Result struct {
	Limit        model.InverterControlLimit
	Constrainers map[model.ControlField][]model.LimitSource
}

// Merge combines partials field by field. Numeric fields take the minimum of
// the defined values. Boolean fields are false if any source says false,
// true if any says true, and unset otherwise.
func Merge(partials []model.InverterControlLimit) Result {
	res := Result{
		Limit:        model.InverterControlLimit{Source: model.SourceAggregate},
		Constrainers: make(map[model.ControlField][]model.LimitSource),
	}
	for _, f := range model.AllFields() {
		var (
			best    float64
			defined bool
			owners  []model.LimitSource
		)
		for _, p := range partials {
			v, ok := p.Get(f)
			if !ok {
				continue
			}
			// false (0) is the minimum of a boolean field
			switch {
			case !defined || v < best:
				best, defined = v, true
				owners = []model.LimitSource{p.Source}
			case v == best:
				owners = appendUnique(owners, p.Source)
			}
		}
		if defined {
			res.Limit.Set(f, best)
			res.Constrainers[f] = owners
		}
	}
	return res
}

func appendUnique(list []model.LimitSource, s model.LimitSource) []model.LimitSource {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// Collect asks every source for its partial limit. Failing sources are
// logged and skipped.
func Collect(ctx context.Context, now time.Time, sources []Source, log logger.Logger) []model.InverterControlLimit {
	out := make([]model.InverterControlLimit, 0, len(sources))
	for _, s := range sources {
		l, err := s.Limit(ctx, now)
		if err != nil {
			sourceErrors.WithLabelValues(string(s.Name())).Inc()
			log.Warnf("limit source %s: %v", s.Name(), err)
			continue
		}
		if l.Source == "" {
			l.Source = s.Name()
		}
		out = append(out, l)
	}
	return out
}
