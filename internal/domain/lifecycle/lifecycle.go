// Пакет lifecycle — конечный автомат статусов заявления.
//
// Именованные события:
//   - submit — студент подаёт заявление (→ created)
//   - accept — created/under_review → in_progress
//   - reject — любой нетерминальный → rejected (требует комментарий)
//   - upload_document — in_progress → in_progress (требует документ)
//   - complete — in_progress → completed (требует готовый документ)
//   - change_status — переход по графу статусов без побочных эффектов
//
// Терминальные статусы: completed, rejected. Переходы из них запрещены.
// Пакет не хранит состояние: текущий статус передаётся явно,
// сериализация переходов выполняется хранилищем (блокировка строки).
package lifecycle

import (
	"fmt"

	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/domain/rbac"
)

// Event — событие жизненного цикла.
type Event string

const (
	EventSubmit         Event = "submit"
	EventAccept         Event = "accept"
	EventReject         Event = "reject"
	EventUploadDocument Event = "upload_document"
	EventComplete       Event = "complete"
	EventChangeStatus   Event = "change_status"
)

// Коды ошибок перехода.
const (
	// CodeInvalidTransition — текущий статус не допускает операцию.
	CodeInvalidTransition = "INVALID_TRANSITION"
	// CodeInvalidTarget — целевой статус вне перечисления.
	CodeInvalidTarget = "INVALID_TARGET"
	// CodePayloadRequired — целевой статус достижим только операцией с данными
	// (reject с комментарием, complete с документом).
	CodePayloadRequired = "PAYLOAD_REQUIRED"
	// CodeForbidden — роль не может инициировать событие.
	CodeForbidden = "FORBIDDEN"
)

// eventRule — допустимые исходные статусы и целевой статус события.
// Пустой to означает, что статус не меняется.
type eventRule struct {
	from map[model.Status]bool
	to   model.Status
}

// eventRules — матрица именованных событий.
var eventRules = map[Event]eventRule{
	EventAccept: {
		from: map[model.Status]bool{model.StatusCreated: true, model.StatusUnderReview: true},
		to:   model.StatusInProgress,
	},
	EventReject: {
		from: map[model.Status]bool{
			model.StatusCreated:     true,
			model.StatusUnderReview: true,
			model.StatusInProgress:  true,
		},
		to: model.StatusRejected,
	},
	EventUploadDocument: {
		from: map[model.Status]bool{model.StatusInProgress: true},
	},
	EventComplete: {
		from: map[model.Status]bool{model.StatusInProgress: true},
		to:   model.StatusCompleted,
	},
}

// statusGraph — рёбра, доступные для change_status.
// Ключ — текущий статус, значение — набор допустимых целевых статусов.
var statusGraph = map[model.Status]map[model.Status]bool{
	model.StatusCreated:     {model.StatusUnderReview: true, model.StatusInProgress: true},
	model.StatusUnderReview: {model.StatusInProgress: true},
	model.StatusInProgress:  {},
	model.StatusCompleted:   {}, // Терминальный
	model.StatusRejected:    {}, // Терминальный
}

// payloadTargets — статусы, в которые можно попасть только через reject/complete.
var payloadTargets = map[model.Status]Event{
	model.StatusRejected:  EventReject,
	model.StatusCompleted: EventComplete,
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION, INVALID_TARGET, PAYLOAD_REQUIRED, FORBIDDEN)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Authorize проверяет, может ли роль инициировать событие.
// submit — только student, остальные события — staff (reviewer, prorector, admin).
func Authorize(event Event, role string) error {
	allowed := rbac.IsStaff(role)
	if event == EventSubmit {
		allowed = role == rbac.RoleStudent
	}
	if !allowed {
		return &TransitionError{
			Code:    CodeForbidden,
			Message: fmt.Sprintf("роль %q не может выполнить %s", role, event),
		}
	}
	return nil
}

// Next возвращает статус после именованного события.
// Для upload_document возвращает текущий статус.
// Не применим к submit и change_status.
func Next(event Event, current model.Status) (model.Status, error) {
	rule, ok := eventRules[event]
	if !ok {
		return "", fmt.Errorf("событие %q не является именованным переходом", event)
	}
	if !rule.from[current] {
		return "", &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("%s недопустим из статуса %s", event, current),
		}
	}
	if rule.to == "" {
		return current, nil
	}
	return rule.to, nil
}

// ValidateTarget проверяет целевой статус change_status без учёта текущего.
// Вызывается до блокировки записи.
func ValidateTarget(target model.Status) error {
	if !target.Valid() {
		return &TransitionError{
			Code:    CodeInvalidTarget,
			Message: fmt.Sprintf("недопустимый статус: %q", target),
		}
	}
	if event, ok := payloadTargets[target]; ok {
		return &TransitionError{
			Code:    CodePayloadRequired,
			Message: fmt.Sprintf("статус %s устанавливается только операцией %s", target, event),
		}
	}
	return nil
}

// CanChangeStatus проверяет ребро графа current → target для change_status.
func CanChangeStatus(current, target model.Status) error {
	if err := ValidateTarget(target); err != nil {
		return err
	}
	if current.IsTerminal() {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("статус %s терминальный", current),
		}
	}
	if !statusGraph[current][target] {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("переход %s → %s недопустим", current, target),
		}
	}
	return nil
}

// AllowedTargets возвращает статусы, доступные change_status из current.
func AllowedTargets(current model.Status) []model.Status {
	var result []model.Status
	for _, s := range model.AllStatuses() {
		if statusGraph[current][s] {
			result = append(result, s)
		}
	}
	return result
}
