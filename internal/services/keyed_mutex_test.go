package services

import (
	"sync"
	"testing"
)

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	var km keyedMutex
	counters := map[string]*int{"a": new(int), "b": new(int)}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, k := range []string{"a", "b"} {
			wg.Add(1)
			go func(k string) {
				defer wg.Done()
				unlock := km.Lock(k)
				defer unlock()
				v := *counters[k]
				*counters[k] = v + 1
			}(k)
		}
	}
	wg.Wait()
	if *counters["a"] != 50 || *counters["b"] != 50 {
		t.Fatalf("a=%d b=%d", *counters["a"], *counters["b"])
	}
	if km.size() != 0 {
		t.Fatalf("entries leaked: %d", km.size())
	}
}
