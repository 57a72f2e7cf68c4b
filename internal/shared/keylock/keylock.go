// Package keylock oferece exclusão mútua por chave (carteira, aposta) sem lock global:
// chaves distintas nunca bloqueiam umas às outras.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map guarda um mutex por chave, criado sob demanda e descartado quando ninguém mais o usa.
// O mutex interno do Map só protege o mapa, nunca é mantido durante a seção crítica.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Lock bloqueia a chave e devolve a função de unlock.
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.entries, key)
			}
			m.mu.Unlock()
		})
	}
}

// Len devolve quantas chaves estão em uso (travadas ou aguardando).
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
