package main

// requireRole exige que o principal tenha o papel informado
func requireRole(principal Principal, role Role) error {
	if principal.Role == role {
		return nil
	}
	if role == RoleAdmin {
		return newForbiddenError("Admin only")
	}
	return newForbiddenError("Forbidden")
}

// canAccessOrder permite o dono do pedido ou um administrador
func canAccessOrder(principal Principal, order *Order) bool {
	if order == nil {
		return false
	}
	return principal.IsAdmin() || order.OwnedBy(principal.ID)
}
