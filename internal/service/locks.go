package service

import "sync"

// requestLocks — реестр эксклюзивных блокировок по ID заявки.
// Переходы State Machine по одной заявке взаимоисключающи: блокировка
// берется на время одного перехода (load + transition + save) и сразу
// отпускается. Чтения (списки, SLA-проекции) идут без блокировок по
// снапшотам — авторитетная проверка все равно повторяется под замком.
type requestLocks struct {
	mu    sync.Mutex
	locks map[string]*requestLock
}

type requestLock struct {
	mu   sync.Mutex
	refs int // Сколько горутин держат или ждут замок
}

func newRequestLocks() *requestLocks {
	return &requestLocks{locks: make(map[string]*requestLock)}
}

// Acquire берет замок заявки и возвращает функцию освобождения.
// Записи реестра живут только пока кто-то держит или ждет замок:
// refcount не дает мапе расти бесконечно на миллионах заявок.
func (r *requestLocks) Acquire(id string) (release func()) {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &requestLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, id)
		}
		r.mu.Unlock()
	}
}
