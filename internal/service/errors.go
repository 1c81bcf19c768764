// errors.go — ошибки бизнес-логики сервисного слоя.
// Обработчики HTTP сопоставляют их с кодами ответа через errors.Is.
package service

import "errors"

var (
	// ErrValidation — отсутствуют или некорректны входные данные.
	ErrValidation = errors.New("ошибка валидации")
	// ErrForbidden — роль пользователя не допускает операцию.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrInvalidTransition — текущий статус заявления не допускает операцию.
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
	// ErrNotFound — заявление, тип, комментарий или файл не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
)
