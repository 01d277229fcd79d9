package rules

import (
	"regexp"
	"sync"
)

// regexCache 编译结果缓存，规则求值在热路径上
var regexCache = &regexStore{cache: make(map[string]*regexp.Regexp)}

type regexStore struct {
	mu    sync.RWMutex
	cache map[string]*regexp.Regexp
}

func (s *regexStore) Get(pattern string) (*regexp.Regexp, error) {
	s.mu.RLock()
	re, ok := s.cache[pattern]
	s.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[pattern] = re
	s.mu.Unlock()
	return re, nil
}

func matchRegex(s, pattern string) bool {
	re, err := regexCache.Get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
