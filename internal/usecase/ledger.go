package usecase

// OpenOrderLedger tracks the USD value of live orders per exchange. It is
// owned by the sequential trading loop; discovery workers never touch it.
// The value is recomputed from live open orders every cycle and only
// decremented by observed cancellations and fills.
type OpenOrderLedger struct {
	values map[string]float64
}

func NewOpenOrderLedger() *OpenOrderLedger {
	return &OpenOrderLedger{values: make(map[string]float64)}
}

func (l *OpenOrderLedger) Value(exchange string) float64 {
	return l.values[exchange]
}

// Set replaces the exchange's total with a freshly recomputed value.
func (l *OpenOrderLedger) Set(exchange string, value float64) {
	if value < 0 {
		value = 0
	}
	l.values[exchange] = value
}

// Add accounts for a newly placed order.
func (l *OpenOrderLedger) Add(exchange string, value float64) {
	l.values[exchange] += value
}

// Release accounts for a cancellation or fill, never going negative.
func (l *OpenOrderLedger) Release(exchange string, value float64) {
	v := l.values[exchange] - value
	if v < 0 {
		v = 0
	}
	l.values[exchange] = v
}
