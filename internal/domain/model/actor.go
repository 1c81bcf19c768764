package model

// Actor — пользователь, выполняющий операцию.
// Передаётся явным параметром во все операции жизненного цикла.
type Actor struct {
	// ID — sub из JWT
	ID string
	// Username — preferred_username из JWT
	Username string
	// Email — адрес электронной почты
	Email string
	// Role — одна из ролей rbac (admin, prorector, reviewer, student)
	Role string
}
