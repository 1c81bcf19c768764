// Пакет rbac — определение роли пользователя документооборота.
// Роль берётся из realm-ролей IdP и из групп IdP (маппинг групп на роли).
// Итоговая роль — максимальная по весу из всех совпадений.
// Пользователь без staff-роли считается студентом.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleStudent   = "student"
	RoleReviewer  = "reviewer"
	RoleProrector = "prorector"
	RoleAdmin     = "admin"
)

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[string]int{
	RoleStudent:   1,
	RoleReviewer:  2,
	RoleProrector: 3,
	RoleAdmin:     4,
}

// GroupMapping — группы IdP, дающие staff-роли.
type GroupMapping struct {
	AdminGroups     []string
	ProrectorGroups []string
	ReviewerGroups  []string
}

// IsStaff — true для ролей, которым доступны переходы жизненного цикла
// (reviewer, prorector, admin).
func IsStaff(role string) bool {
	switch role {
	case RoleReviewer, RoleProrector, RoleAdmin:
		return true
	default:
		return false
	}
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Неизвестные роли игнорируются. Если допустимых ролей нет — пустая строка.
func HighestRole(roles []string) string {
	highest := ""
	for _, r := range roles {
		if !IsValidRole(r) {
			continue
		}
		if highest == "" {
			highest = r
			continue
		}
		highest = maxRole(highest, r)
	}
	return highest
}

// MapGroupsToRole определяет роль пользователя на основе его групп IdP.
// Возвращает максимальную роль из всех совпадений.
// Если ни одна группа не совпала — возвращает пустую строку.
func MapGroupsToRole(groups []string, m GroupMapping) string {
	adminSet := toSet(m.AdminGroups)
	prorectorSet := toSet(m.ProrectorGroups)
	reviewerSet := toSet(m.ReviewerGroups)

	var roles []string
	for _, g := range groups {
		if adminSet[g] {
			roles = append(roles, RoleAdmin)
		}
		if prorectorSet[g] {
			roles = append(roles, RoleProrector)
		}
		if reviewerSet[g] {
			roles = append(roles, RoleReviewer)
		}
	}

	return HighestRole(roles)
}

// ResolveRole вычисляет итоговую роль из realm-ролей и групп.
// Без совпадений возвращает RoleStudent.
func ResolveRole(realmRoles, groups []string, m GroupMapping) string {
	role := HighestRole([]string{HighestRole(realmRoles), MapGroupsToRole(groups, m)})
	if role == "" {
		return RoleStudent
	}
	return role
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
