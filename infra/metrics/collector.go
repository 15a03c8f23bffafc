package metrics

import (
	"context"

	"github.com/kilianp07/dercontrol/core/events"
	coremetrics "github.com/kilianp07/dercontrol/core/metrics"
	"github.com/kilianp07/dercontrol/internal/eventbus"
)

// StartEventCollector subscribes to the ack and schedule change buses and
// records them on sink. It stops when the context is canceled.
func StartEventCollector(ctx context.Context, acks *eventbus.TypedBus[events.AckEvent], changes *eventbus.TypedBus[events.ScheduleChangeEvent], sink coremetrics.MetricsSink) {
	if sink == nil {
		return
	}
	ackRec, _ := sink.(coremetrics.AckRecorder)
	changeRec, _ := sink.(coremetrics.ScheduleChangeRecorder)
	var (
		ackCh    <-chan events.AckEvent
		changeCh <-chan events.ScheduleChangeEvent
	)
	if acks != nil && ackRec != nil {
		ackCh = acks.SubscribeBuffered(64)
	}
	if changes != nil && changeRec != nil {
		changeCh = changes.SubscribeBuffered(64)
	}
	if ackCh == nil && changeCh == nil {
		return
	}
	go func() {
		defer func() {
			if ackCh != nil {
				acks.Unsubscribe(ackCh)
			}
			if changeCh != nil {
				changes.Unsubscribe(changeCh)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ackCh:
				if !ok {
					ackCh = nil
					continue
				}
				rec := coremetrics.AckRecord{MRID: e.MRID, Status: e.Status, Success: e.Err == nil, Time: e.Time}
				if e.Err != nil {
					rec.Error = e.Err.Error()
				}
				_ = ackRec.RecordAck(rec)
			case e, ok := <-changeCh:
				if !ok {
					changeCh = nil
					continue
				}
				_ = changeRec.RecordScheduleChange(coremetrics.ScheduleChangeRecord{
					Field: e.Field, PreviousMRID: e.PreviousMRID, MRID: e.MRID, Time: e.Time,
				})
			}
		}
	}()
}
