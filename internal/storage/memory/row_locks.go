package memory

import (
	"context"
	"sync"
)

// rowLocks: набор эксклюзивных блокировок строк по ключу.
// Канал ёмкостью 1 вместо sync.Mutex позволяет прервать ожидание по ctx.
// Слот удаляется, когда его не держит и не ждёт ни один вызов.
type rowLocks struct {
	mu   sync.Mutex
	rows map[string]*rowSlot
}

type rowSlot struct {
	ch   chan struct{}
	refs int
}

func newRowLocks() *rowLocks {
	return &rowLocks{rows: make(map[string]*rowSlot)}
}

func (l *rowLocks) slot(key string) *rowSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.rows[key]
	if !ok {
		s = &rowSlot{ch: make(chan struct{}, 1)}
		l.rows[key] = s
	}
	s.refs++
	return s
}

func (l *rowLocks) drop(key string, s *rowSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.rows, key)
	}
}

func (l *rowLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

// acquire блокирует строку key. Возвращает функцию освобождения.
func (l *rowLocks) acquire(ctx context.Context, key string) (func(), error) {
	s := l.slot(key)
	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.drop(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ctx.Err()
	}
}
