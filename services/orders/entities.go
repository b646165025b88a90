package main

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Role representa o papel do usuário autenticado
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole normaliza o papel vindo do token; qualquer valor desconhecido vira "user"
func ParseRole(raw string) Role {
	if Role(strings.ToLower(strings.TrimSpace(raw))) == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// Principal representa a identidade autenticada de uma requisição
type Principal struct {
	ID   string
	Role Role
}

// IsAdmin indica se o principal possui papel de administrador
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CatalogItem representa um doce do catálogo com preço e estoque atuais
type CatalogItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Image    *string         `json:"image,omitempty"`
}

// Order representa um pedido confirmado; imutável após o commit
type Order struct {
	ID          string          `json:"id"`
	UserID      *string         `json:"user_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Address     *string         `json:"address"`
	CreatedAt   time.Time       `json:"created_at"`
	Items       []OrderLine     `json:"items,omitempty"`
}

// OwnedBy indica se o pedido pertence ao usuário informado
func (o *Order) OwnedBy(userID string) bool {
	return o.UserID != nil && *o.UserID == userID
}

// OrderLine representa uma linha do pedido com o preço capturado na compra
type OrderLine struct {
	ID      int64           `json:"id"`
	OrderID string          `json:"order_id"`
	ItemID  string          `json:"sweet_id"`
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
	Qty     int             `json:"qty"`
}

// Subtotal retorna preço capturado × quantidade
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Qty)))
}

// NewOrder cria um pedido a partir das linhas já precificadas sob lock
func NewOrder(id, userID string, address *string, lines []OrderLine) *Order {
	total := decimal.Zero
	for i := range lines {
		lines[i].OrderID = id
		total = total.Add(lines[i].Subtotal())
	}

	return &Order{
		ID:          id,
		UserID:      &userID,
		TotalAmount: total,
		Address:     address,
		Items:       lines,
	}
}

// CartLine é um par (item, quantidade) pedido pelo cliente
type CartLine struct {
	ID  string `json:"id"`
	Qty int    `json:"qty"`
}

// PlaceOrderRequest representa o corpo de POST /api/orders
type PlaceOrderRequest struct {
	Items   []CartLine `json:"items"`
	Address *string    `json:"address"`
}

// TopItem representa um doce no ranking de mais vendidos
type TopItem struct {
	ID      string          `json:"id"`
	Name    *string         `json:"name"`
	SoldQty int64           `json:"sold_qty"`
	Revenue decimal.Decimal `json:"revenue"`
}

// DailyRevenue representa a receita de um dia (UTC)
type DailyRevenue struct {
	Day     string          `json:"day"`
	Revenue decimal.Decimal `json:"revenue"`
}

// Statistics representa os agregados de vendas exibidos no painel admin
type Statistics struct {
	TotalRevenue decimal.Decimal `json:"totalRevenue"`
	TotalOrders  int64           `json:"totalOrders"`
	TotalItems   int64           `json:"totalItems"`
	Top          []TopItem       `json:"top"`
	Daily        []DailyRevenue  `json:"daily"`
}

// MarshalJSON emite totalRevenue como número JSON; as receitas de top e daily seguem como string
func (s Statistics) MarshalJSON() ([]byte, error) {
	type alias Statistics
	return json.Marshal(struct {
		alias
		TotalRevenue json.Number `json:"totalRevenue"`
	}{
		alias:        alias(s),
		TotalRevenue: json.Number(s.TotalRevenue.String()),
	})
}
