package domain

import "fmt"

// SagaState: состояние одного прогона саги CreateOrder.
type SagaState string

const (
	SagaStateStart          SagaState = "START"
	SagaStateStockReserved  SagaState = "STOCK_RESERVED"
	SagaStatePaymentDecided SagaState = "PAYMENT_DECIDED"
	SagaStateCompensated    SagaState = "COMPENSATED"
	SagaStateTerminal       SagaState = "TERMINAL"
)

// sagaTransitions перечисляет допустимые переходы.
// START → TERMINAL: отказ склада, заказ не сохраняется.
var sagaTransitions = map[SagaState][]SagaState{
	SagaStateStart:          {SagaStateStockReserved, SagaStateTerminal},
	SagaStateStockReserved:  {SagaStatePaymentDecided},
	SagaStatePaymentDecided: {SagaStateCompensated, SagaStateTerminal},
	SagaStateCompensated:    {SagaStateTerminal},
}

// CanTransition сообщает, разрешён ли переход from → to.
func CanTransition(from, to SagaState) bool {
	for _, next := range sagaTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrInvalidSagaTransition описывает недопустимый переход.
type ErrInvalidSagaTransition struct {
	From SagaState
	To   SagaState
}

func (e ErrInvalidSagaTransition) Error() string {
	return fmt.Sprintf("invalid saga transition %s -> %s", e.From, e.To)
}

// SagaStep задаёт константы шагов для метрик/логов.
type SagaStep string

const (
	SagaStepReserve   SagaStep = "reserve"
	SagaStepAuthorize SagaStep = "authorize"
	SagaStepRelease   SagaStep = "release"
	SagaStepPersist   SagaStep = "persist"
)
