package domain

// Course — покупаемый курс из каталога. Каталог read-only: цена и валюта
// авторитетны на момент чекаута.
type Course struct {
	ID          string
	Title       string
	Currency    string
	AmountMinor int64
}

// Consultation — бронируемая консультация; её слоты лежат в TimeSlot.
type Consultation struct {
	ID          string
	Title       string
	Currency    string
	AmountMinor int64
}
