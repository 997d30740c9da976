package collections

import "sync"

// SafeErrorMap records errors against the target that produced them.
type SafeErrorMap struct {
	sync.Mutex
	errors map[string]error
}

func (sm *SafeErrorMap) Put(key string, val error) {
	sm.Lock()
	defer sm.Unlock()
	if sm.errors == nil {
		sm.errors = map[string]error{}
	}
	sm.errors[key] = val
}

func (sm *SafeErrorMap) GetCopy() map[string]error {
	sm.Lock()
	defer sm.Unlock()
	cpy := make(map[string]error, len(sm.errors))
	for k, v := range sm.errors {
		cpy[k] = v
	}
	return cpy
}
