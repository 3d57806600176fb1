package engine

// priceLevel is a FIFO queue of resting orders at one exact price,
// maintained as an intrusive doubly-linked list through the orders'
// prev/next pointers. Append and arbitrary unlink are O(1), which keeps
// cancellation from scanning the queue.
type priceLevel struct {
	price  int64
	head   *Order
	tail   *Order
	count  int
	volume int64 // sum of resting remaining quantities
}

func (l *priceLevel) push(o *Order) {
	if l.tail == nil {
		l.head = o
		l.tail = o
	} else {
		l.tail.next = o
		o.prev = l.tail
		l.tail = o
	}
	o.level = l
	l.count++
	l.volume += o.Remaining()
}

// unlink removes o from the queue without touching its status. FIFO order
// of the surviving siblings is preserved.
func (l *priceLevel) unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		l.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		l.tail = o.prev
	}
	o.prev = nil
	o.next = nil
	o.level = nil
	l.count--
	l.volume -= o.Remaining()
}

func (l *priceLevel) front() *Order {
	return l.head
}

func (l *priceLevel) empty() bool {
	return l.head == nil
}
