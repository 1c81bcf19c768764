package model

import "fmt"

// Status — статус заявления.
// Значение хранится в колонке applications.status (CHECK-ограничение в миграции).
type Status string

const (
	// StatusCreated — заявление подано студентом.
	StatusCreated Status = "created"
	// StatusUnderReview — заявление взято на проверку.
	StatusUnderReview Status = "under_review"
	// StatusInProgress — заявление принято в работу.
	StatusInProgress Status = "in_progress"
	// StatusCompleted — готовый документ выдан (конечный статус).
	StatusCompleted Status = "completed"
	// StatusRejected — заявление отклонено с комментарием (конечный статус).
	StatusRejected Status = "rejected"
)

// AllStatuses возвращает полный набор статусов в порядке жизненного цикла.
func AllStatuses() []Status {
	return []Status{StatusCreated, StatusUnderReview, StatusInProgress, StatusCompleted, StatusRejected}
}

// Valid проверяет, входит ли статус в фиксированное перечисление.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusUnderReview, StatusInProgress, StatusCompleted, StatusRejected:
		return true
	default:
		return false
	}
}

// IsTerminal — true для completed и rejected.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// DisplayName возвращает человекочитаемое название статуса (для писем).
func (s Status) DisplayName() string {
	switch s {
	case StatusCreated:
		return "Создано"
	case StatusUnderReview:
		return "Проверяется"
	case StatusInProgress:
		return "В процессе"
	case StatusCompleted:
		return "Готово"
	case StatusRejected:
		return "Отклонено"
	default:
		return string(s)
	}
}

// ParseStatus преобразует строку в Status.
// Возвращает ошибку для значений вне перечисления.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("недопустимый статус: %q, допустимые: created, under_review, in_progress, completed, rejected", s)
	}
	return st, nil
}
