package gameclient

import "sync"

// Unsubscribe снимает подписку. Повторный вызов ничего не делает.
type Unsubscribe func()

type observer[T any] struct {
	id uint64
	fn func(T)
}

// observers — список подписчиков одного события, вызываются в порядке
// подписки.
type observers[T any] struct {
	mu   sync.Mutex
	seq  uint64
	list []observer[T]
}

func (o *observers[T]) add(fn func(T)) Unsubscribe {
	o.mu.Lock()
	o.seq++
	id := o.seq
	o.list = append(o.list, observer[T]{id: id, fn: fn})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(id) })
	}
}

func (o *observers[T]) remove(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, ob := range o.list {
		if ob.id == id {
			// новый массив: уже снятые emit'ом снимки не меняются
			o.list = append(o.list[:i:i], o.list[i+1:]...)
			return
		}
	}
}

func (o *observers[T]) emit(v T) {
	o.mu.Lock()
	snap := o.list
	o.mu.Unlock()
	for _, ob := range snap {
		ob.fn(v)
	}
}

func (o *observers[T]) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.list)
}
