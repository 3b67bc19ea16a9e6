package saga

import (
	"time"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
)

// run хранит состояние одного прогона саги и накопленные события таймлайна.
// События пишутся в хранилище только после сохранения заказа.
type run struct {
	state  domain.SagaState
	events []domain.TimelineEvent
	now    func() time.Time
}

func newRun(now func() time.Time) *run {
	return &run{state: domain.SagaStateStart, now: now}
}

func (r *run) advance(to domain.SagaState, eventType, reason string) error {
	if !domain.CanTransition(r.state, to) {
		return domain.ErrInvalidSagaTransition{From: r.state, To: to}
	}
	r.state = to
	if eventType != "" {
		r.events = append(r.events, domain.TimelineEvent{
			Type:     eventType,
			Reason:   reason,
			Occurred: r.now(),
		})
	}
	return nil
}
